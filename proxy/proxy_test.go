// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package proxy_test

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/enginerpc/proxy"
	"github.com/juju/enginerpc/rpc/params"
)

type generateSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&generateSuite{})

func (s *generateSuite) TestGenerateFromNames(c *gc.C) {
	set, err := proxy.Generate([]interface{}{"GetLayout", "SelectValues"})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(set.Names(), jc.DeepEquals, []string{"GetLayout", "SelectValues"})
	c.Assert(set.Len(), gc.Equals, 2)
}

func (s *generateSuite) TestGenerateFromObjects(c *gc.C) {
	set, err := proxy.Generate([]interface{}{
		map[string]interface{}{"name": "GetLayout", "returns": "object"},
		"ApplyPatches",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(set.Names(), jc.DeepEquals, []string{"GetLayout", "ApplyPatches"})
}

func (s *generateSuite) TestGenerateDeduplicates(c *gc.C) {
	set, err := proxy.Generate([]interface{}{"GetLayout", "GetLayout"})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(set.Names(), jc.DeepEquals, []string{"GetLayout"})
}

func (s *generateSuite) TestGenerateRejectsNonList(c *gc.C) {
	_, err := proxy.Generate(map[string]interface{}{"name": "x"})
	c.Assert(err, gc.ErrorMatches, "invalid method document:.*")
}

func (s *generateSuite) TestGenerateRejectsObjectWithoutName(c *gc.C) {
	_, err := proxy.Generate([]interface{}{
		map[string]interface{}{"returns": "object"},
	})
	c.Assert(err, gc.ErrorMatches, ".*method entry without name not valid")
}

func (s *generateSuite) TestLookupCaseSensitive(c *gc.C) {
	set, err := proxy.Generate([]interface{}{"GetLayout"})
	c.Assert(err, jc.ErrorIsNil)
	_, ok := set.Lookup("GetLayout")
	c.Assert(ok, jc.IsTrue)
	_, ok = set.Lookup("getlayout")
	c.Assert(ok, jc.IsFalse)
}

type fakeCaller struct {
	requests []*params.Request
	response *params.Response
	err      error
}

func (f *fakeCaller) Send(ctx context.Context, req *params.Request) (*params.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type objectSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&objectSuite{})

func (s *objectSuite) newObject(c *gc.C, caller proxy.Caller) *proxy.Object {
	set, err := proxy.Generate([]interface{}{"GetLayout"})
	c.Assert(err, jc.ErrorIsNil)
	return proxy.New(caller, params.ObjectRef{
		Handle:      2,
		Type:        "GenericObject",
		GenericType: "listbox",
		ID:          "LB01",
	}, set)
}

func (s *objectSuite) TestInvokeSendsHandleAndMethod(c *gc.C) {
	caller := &fakeCaller{response: &params.Response{
		Result: json.RawMessage(`{"title":"t"}`),
	}}
	obj := s.newObject(c, caller)

	var result struct {
		Title string `json:"title"`
	}
	err := obj.Invoke(context.Background(), "GetLayout", nil, &result)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Title, gc.Equals, "t")
	c.Assert(caller.requests, gc.HasLen, 1)
	c.Assert(caller.requests[0].Method, gc.Equals, "GetLayout")
	c.Assert(caller.requests[0].Handle, gc.Equals, 2)
}

func (s *objectSuite) TestInvokeUnknownMethod(c *gc.C) {
	caller := &fakeCaller{}
	obj := s.newObject(c, caller)
	err := obj.Invoke(context.Background(), "SelectValues", nil, nil)
	c.Assert(err, jc.ErrorIs, errors.NotSupported)
	c.Assert(caller.requests, gc.HasLen, 0)
}

func (s *objectSuite) TestInvokeClosedObject(c *gc.C) {
	caller := &fakeCaller{}
	obj := s.newObject(c, caller)
	obj.MarkClosed()
	err := obj.Invoke(context.Background(), "GetLayout", nil, nil)
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	c.Assert(caller.requests, gc.HasLen, 0)
}

func (s *objectSuite) TestInvokeNilResultSkipsUnmarshal(c *gc.C) {
	caller := &fakeCaller{response: &params.Response{
		Result: json.RawMessage(`{"ignored":true}`),
	}}
	obj := s.newObject(c, caller)
	err := obj.Invoke(context.Background(), "GetLayout", nil, nil)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *objectSuite) TestRebindChangesHandle(c *gc.C) {
	caller := &fakeCaller{response: &params.Response{}}
	obj := s.newObject(c, caller)
	c.Assert(obj.Handle(), gc.Equals, 2)
	obj.Rebind(22)
	c.Assert(obj.Handle(), gc.Equals, 22)

	err := obj.Invoke(context.Background(), "GetLayout", nil, nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(caller.requests[0].Handle, gc.Equals, 22)
}

func (s *objectSuite) TestAccessors(c *gc.C) {
	obj := s.newObject(c, &fakeCaller{})
	c.Assert(obj.ID(), gc.Equals, "LB01")
	c.Assert(obj.Type(), gc.Equals, "GenericObject")
	c.Assert(obj.GenericType(), gc.Equals, "listbox")
	c.Assert(obj.Closed(), jc.IsFalse)
	c.Assert(obj.Methods().Names(), jc.DeepEquals, []string{"GetLayout"})
}
