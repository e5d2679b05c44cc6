// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package delta reconstructs full payloads from the engine's
// delta-encoded results. A delta is a sequence of patch operations
// (add, replace, remove) against the previously delivered payload,
// addressed by JSON pointer paths.
package delta

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Operation is a single patch step.
type Operation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Apply applies ops to patchee and returns the resulting document. A
// nil patchee is treated as an absent document; the first operation
// must then establish the root. The input patchee is not modified.
func Apply(patchee json.RawMessage, ops []Operation) (json.RawMessage, error) {
	var doc interface{}
	if len(patchee) > 0 {
		if err := json.Unmarshal(patchee, &doc); err != nil {
			return nil, errors.Annotate(err, "unmarshalling patchee")
		}
	}
	for i, op := range ops {
		var err error
		doc, err = applyOne(doc, op)
		if err != nil {
			return nil, errors.Annotatef(err, "applying operation %d (%s %q)", i, op.Op, op.Path)
		}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return out, nil
}

func applyOne(doc interface{}, op Operation) (interface{}, error) {
	switch op.Op {
	case "add", "replace", "remove":
	default:
		return nil, errors.NotSupportedf("operation %q", op.Op)
	}
	if op.Path == "" || op.Path == "/" {
		if op.Op == "remove" {
			return nil, nil
		}
		var v interface{}
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, errors.Trace(err)
		}
		return v, nil
	}
	tokens, err := parsePointer(op.Path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return patch(doc, tokens, op)
}

// parsePointer splits a JSON pointer into its unescaped tokens.
func parsePointer(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, errors.NotValidf("pointer %q", path)
	}
	parts := strings.Split(path[1:], "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		p = strings.ReplaceAll(p, "~0", "~")
		parts[i] = p
	}
	return parts, nil
}

func patch(doc interface{}, tokens []string, op Operation) (interface{}, error) {
	token := tokens[0]
	last := len(tokens) == 1

	switch node := doc.(type) {
	case map[string]interface{}:
		if !last {
			child, ok := node[token]
			if !ok {
				return nil, errors.NotFoundf("path element %q", token)
			}
			updated, err := patch(child, tokens[1:], op)
			if err != nil {
				return nil, err
			}
			node[token] = updated
			return node, nil
		}
		switch op.Op {
		case "remove":
			if _, ok := node[token]; !ok {
				return nil, errors.NotFoundf("key %q", token)
			}
			delete(node, token)
		default:
			var v interface{}
			if err := json.Unmarshal(op.Value, &v); err != nil {
				return nil, errors.Trace(err)
			}
			node[token] = v
		}
		return node, nil

	case []interface{}:
		if token == "-" && last && op.Op == "add" {
			var v interface{}
			if err := json.Unmarshal(op.Value, &v); err != nil {
				return nil, errors.Trace(err)
			}
			return append(node, v), nil
		}
		i, err := strconv.Atoi(token)
		if err != nil || i < 0 || i > len(node) {
			return nil, errors.NotValidf("array index %q", token)
		}
		if !last {
			if i == len(node) {
				return nil, errors.NotFoundf("array element %d", i)
			}
			updated, err := patch(node[i], tokens[1:], op)
			if err != nil {
				return nil, err
			}
			node[i] = updated
			return node, nil
		}
		switch op.Op {
		case "remove":
			if i == len(node) {
				return nil, errors.NotFoundf("array element %d", i)
			}
			return append(node[:i], node[i+1:]...), nil
		case "add":
			var v interface{}
			if err := json.Unmarshal(op.Value, &v); err != nil {
				return nil, errors.Trace(err)
			}
			node = append(node, nil)
			copy(node[i+1:], node[i:])
			node[i] = v
			return node, nil
		default: // replace
			if i == len(node) {
				return nil, errors.NotValidf("array index %q", token)
			}
			var v interface{}
			if err := json.Unmarshal(op.Value, &v); err != nil {
				return nil, errors.Trace(err)
			}
			node[i] = v
			return node, nil
		}

	default:
		return nil, errors.NotValidf("patching scalar at %q", token)
	}
}
