// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package delta_test

import (
	"encoding/json"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/enginerpc/delta"
)

type deltaSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&deltaSuite{})

func (s *deltaSuite) apply(c *gc.C, patchee string, ops ...delta.Operation) string {
	var base json.RawMessage
	if patchee != "" {
		base = json.RawMessage(patchee)
	}
	out, err := delta.Apply(base, ops)
	c.Assert(err, jc.ErrorIsNil)
	return string(out)
}

func (s *deltaSuite) TestAddKey(c *gc.C) {
	out := s.apply(c, `{"a":1}`, delta.Operation{
		Op: "add", Path: "/b", Value: json.RawMessage(`2`),
	})
	c.Assert(out, jc.JSONEquals, map[string]interface{}{"a": 1, "b": 2})
}

func (s *deltaSuite) TestReplaceNestedKey(c *gc.C) {
	out := s.apply(c, `{"layout":{"title":"old","size":3}}`, delta.Operation{
		Op: "replace", Path: "/layout/title", Value: json.RawMessage(`"new"`),
	})
	c.Assert(out, jc.JSONEquals, map[string]interface{}{
		"layout": map[string]interface{}{"title": "new", "size": 3},
	})
}

func (s *deltaSuite) TestRemoveKey(c *gc.C) {
	out := s.apply(c, `{"a":1,"b":2}`, delta.Operation{
		Op: "remove", Path: "/b",
	})
	c.Assert(out, jc.JSONEquals, map[string]interface{}{"a": 1})
}

func (s *deltaSuite) TestRemoveMissingKey(c *gc.C) {
	_, err := delta.Apply(json.RawMessage(`{"a":1}`), []delta.Operation{
		{Op: "remove", Path: "/b"},
	})
	c.Assert(err, gc.ErrorMatches, `applying operation 0 \(remove "/b"\): key "b" not found`)
}

func (s *deltaSuite) TestArrayAppend(c *gc.C) {
	out := s.apply(c, `{"rows":[1,2]}`, delta.Operation{
		Op: "add", Path: "/rows/-", Value: json.RawMessage(`3`),
	})
	c.Assert(out, jc.JSONEquals, map[string]interface{}{"rows": []interface{}{1, 2, 3}})
}

func (s *deltaSuite) TestArrayInsert(c *gc.C) {
	out := s.apply(c, `[1,3]`, delta.Operation{
		Op: "add", Path: "/1", Value: json.RawMessage(`2`),
	})
	c.Assert(out, jc.JSONEquals, []interface{}{1, 2, 3})
}

func (s *deltaSuite) TestArrayRemove(c *gc.C) {
	out := s.apply(c, `[1,2,3]`, delta.Operation{
		Op: "remove", Path: "/1",
	})
	c.Assert(out, jc.JSONEquals, []interface{}{1, 3})
}

func (s *deltaSuite) TestArrayReplace(c *gc.C) {
	out := s.apply(c, `[1,2,3]`, delta.Operation{
		Op: "replace", Path: "/2", Value: json.RawMessage(`9`),
	})
	c.Assert(out, jc.JSONEquals, []interface{}{1, 2, 9})
}

func (s *deltaSuite) TestArrayIndexOutOfRange(c *gc.C) {
	_, err := delta.Apply(json.RawMessage(`[1]`), []delta.Operation{
		{Op: "replace", Path: "/5", Value: json.RawMessage(`0`)},
	})
	c.Assert(err, gc.ErrorMatches, `.*array index "5" not valid`)
}

func (s *deltaSuite) TestRootReplace(c *gc.C) {
	out := s.apply(c, `{"old":true}`, delta.Operation{
		Op: "replace", Path: "/", Value: json.RawMessage(`{"new":true}`),
	})
	c.Assert(out, jc.JSONEquals, map[string]interface{}{"new": true})
}

func (s *deltaSuite) TestRootEstablishedOnEmptyPatchee(c *gc.C) {
	out := s.apply(c, "", delta.Operation{
		Op: "add", Path: "/", Value: json.RawMessage(`{"fresh":1}`),
	})
	c.Assert(out, jc.JSONEquals, map[string]interface{}{"fresh": 1})
}

func (s *deltaSuite) TestEscapedPointerTokens(c *gc.C) {
	out := s.apply(c, `{"a/b":1,"c~d":2}`,
		delta.Operation{Op: "replace", Path: "/a~1b", Value: json.RawMessage(`10`)},
		delta.Operation{Op: "replace", Path: "/c~0d", Value: json.RawMessage(`20`)},
	)
	c.Assert(out, jc.JSONEquals, map[string]interface{}{"a/b": 10, "c~d": 20})
}

func (s *deltaSuite) TestSequentialOperations(c *gc.C) {
	out := s.apply(c, `{"rows":[],"title":"x"}`,
		delta.Operation{Op: "add", Path: "/rows/-", Value: json.RawMessage(`1`)},
		delta.Operation{Op: "add", Path: "/rows/-", Value: json.RawMessage(`2`)},
		delta.Operation{Op: "remove", Path: "/title"},
	)
	c.Assert(out, jc.JSONEquals, map[string]interface{}{"rows": []interface{}{1, 2}})
}

func (s *deltaSuite) TestUnknownOperation(c *gc.C) {
	_, err := delta.Apply(json.RawMessage(`{}`), []delta.Operation{
		{Op: "move", Path: "/a"},
	})
	c.Assert(err, gc.ErrorMatches, `.*operation "move" not supported`)
}

func (s *deltaSuite) TestPointerWithoutSlash(c *gc.C) {
	_, err := delta.Apply(json.RawMessage(`{}`), []delta.Operation{
		{Op: "add", Path: "a", Value: json.RawMessage(`1`)},
	})
	c.Assert(err, gc.ErrorMatches, `.*pointer "a" not valid`)
}

func (s *deltaSuite) TestPatcheeNotModified(c *gc.C) {
	patchee := json.RawMessage(`{"a":1}`)
	_, err := delta.Apply(patchee, []delta.Operation{
		{Op: "replace", Path: "/a", Value: json.RawMessage(`2`)},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(patchee), gc.Equals, `{"a":1}`)
}
