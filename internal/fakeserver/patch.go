package fakeserver

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/ravendb/ravendb.go/pkg/document"
)

// runPatch applies script to body in place. Statements are separated by
// semicolons or newlines and take one of the forms
//
//	this.a.b = <value>
//	this.a += <value>
//	this.a -= <value>
//	this.a.push(<value>)
//	delete this.a
//
// where <value> is args.name, $name or a JSON literal.
func runPatch(body document.Document, script string, args document.Document) (bool, error) {
	modified := false
	for _, stmt := range splitStatements(script) {
		changed, err := runStatement(body, stmt, args)
		if err != nil {
			return false, fmt.Errorf("%q: %w", stmt, err)
		}
		modified = modified || changed
	}
	return modified, nil
}

func splitStatements(script string) []string {
	var out []string
	for _, line := range strings.FieldsFunc(script, func(r rune) bool { return r == ';' || r == '\n' }) {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func runStatement(body document.Document, stmt string, args document.Document) (bool, error) {
	if rest, ok := strings.CutPrefix(stmt, "delete "); ok {
		parent, key, err := resolvePath(body, strings.TrimSpace(rest), false)
		if err != nil || parent == nil {
			return false, err
		}
		if _, ok := parent[key]; !ok {
			return false, nil
		}
		delete(parent, key)
		return true, nil
	}

	if target, arg, ok := cutCall(stmt, ".push("); ok {
		value, err := patchValue(arg, args)
		if err != nil {
			return false, err
		}
		parent, key, err := resolvePath(body, target, true)
		if err != nil {
			return false, err
		}
		arr, _ := parent[key].([]any)
		parent[key] = append(arr, value)
		return true, nil
	}

	for _, op := range []string{"+=", "-=", "="} {
		lhs, rhs, ok := strings.Cut(stmt, op)
		if !ok {
			continue
		}
		value, err := patchValue(strings.TrimSpace(rhs), args)
		if err != nil {
			return false, err
		}
		parent, key, err := resolvePath(body, strings.TrimSpace(lhs), true)
		if err != nil {
			return false, err
		}
		if op != "=" {
			current, _ := toNumber(parent[key])
			delta, ok := toNumber(value)
			if !ok {
				return false, fmt.Errorf("%v is not a number", value)
			}
			if op == "-=" {
				delta = -delta
			}
			value = current + delta
		}
		old, existed := parent[key]
		parent[key] = value
		return !existed || !reflect.DeepEqual(old, value), nil
	}
	return false, fmt.Errorf("unsupported statement")
}

func cutCall(stmt, call string) (string, string, bool) {
	i := strings.Index(stmt, call)
	if i < 0 || !strings.HasSuffix(stmt, ")") {
		return "", "", false
	}
	return strings.TrimSpace(stmt[:i]), strings.TrimSpace(stmt[i+len(call) : len(stmt)-1]), true
}

// resolvePath walks "this.a.b" and returns the object holding the last
// segment. With create set, missing intermediate objects are added.
func resolvePath(body document.Document, path string, create bool) (map[string]any, string, error) {
	rest, ok := strings.CutPrefix(path, "this.")
	if !ok {
		return nil, "", fmt.Errorf("path %q must start with this.", path)
	}
	parts := strings.Split(rest, ".")
	current := map[string]any(body)
	for _, p := range parts[:len(parts)-1] {
		next, ok := current[p].(map[string]any)
		if !ok {
			if d, isDoc := current[p].(document.Document); isDoc {
				next, ok = d, true
			}
		}
		if !ok {
			if !create {
				return nil, "", nil
			}
			next = map[string]any{}
			current[p] = next
		}
		current = next
	}
	return current, parts[len(parts)-1], nil
}

func patchValue(expr string, args document.Document) (any, error) {
	for _, prefix := range []string{"args.", "$"} {
		if name, ok := strings.CutPrefix(expr, prefix); ok {
			v, ok := args[name]
			if !ok {
				return nil, fmt.Errorf("missing argument %q", name)
			}
			return v, nil
		}
	}
	switch expr {
	case "null":
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if f, err := strconv.ParseFloat(expr, 64); err == nil {
		return f, nil
	}
	if len(expr) >= 2 && (expr[0] == '\'' || expr[0] == '"') && expr[len(expr)-1] == expr[0] {
		return expr[1 : len(expr)-1], nil
	}
	return nil, fmt.Errorf("unsupported value %q", expr)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
