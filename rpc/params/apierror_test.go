// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package params_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/enginerpc/rpc/params"
)

type errorSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&errorSuite{})

func (s *errorSuite) TestErrorMessage(c *gc.C) {
	err := &params.Error{Code: 2, Message: "Invalid handle"}
	c.Assert(err, gc.ErrorMatches, `Invalid handle \(code 2\)`)
}

func (s *errorSuite) TestErrorMessageWithParameter(c *gc.C) {
	err := &params.Error{Code: 8, Message: "Invalid path", Parameter: "qPath"}
	c.Assert(err, gc.ErrorMatches, `Invalid path \(code 8, parameter "qPath"\)`)
}

func (s *errorSuite) TestErrCodeThroughWrapping(c *gc.C) {
	var err error = &params.Error{Code: 11, Message: "Access denied"}
	err = errors.Annotate(err, "calling GetObject")
	c.Assert(params.IsRPCError(err), jc.IsTrue)
	c.Assert(params.ErrCode(err), gc.Equals, 11)
}

func (s *errorSuite) TestErrCodeOnPlainError(c *gc.C) {
	err := errors.New("boom")
	c.Assert(params.IsRPCError(err), jc.IsFalse)
	c.Assert(params.ErrCode(err), gc.Equals, 0)
}
