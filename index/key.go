package index

import (
	"regexp"
	"strings"

	"github.com/Klump3n/platt-backend-sub000/format"
)

// elementTagPattern matches sub-parts that name an element type, registered
// or not.
var elementTagPattern = regexp.MustCompile(`^c3d\d+[a-z]*$`)

// ParseKey turns one object key of the form
//
//	universe.fo.<simtype>.<usage>[.<sub>...]@<timestep>
//
// into a sparse tree holding just that object. It reports false for keys
// that do not follow the grammar or that name an unregistered element type.
func ParseKey(namespace, key, sha1sum string) (Tree, bool) {
	if namespace == "" {
		return nil, false
	}
	path, timestep, ok := strings.Cut(key, "@")
	if !ok || timestep == "" || strings.Contains(timestep, "@") {
		return nil, false
	}

	parts := strings.Split(path, ".")
	if len(parts) < 4 || parts[0] != "universe" || parts[1] != "fo" {
		return nil, false
	}
	simtype, usage, subs := parts[2], parts[3], parts[4:]
	if simtype != SimTA && simtype != SimMA {
		return nil, false
	}
	for _, sub := range subs {
		if sub == "" {
			return nil, false
		}
	}

	obj := &Object{Key: key, Sha1sum: sha1sum}
	sim := &Sim{}

	switch usage {
	case "nodes", "elementactivationbitmap", "boundingbox":
		if len(subs) != 0 {
			return nil, false
		}
		switch usage {
		case "nodes":
			sim.Nodes = obj
		case "elementactivationbitmap":
			sim.ElementActivationBitmap = obj
		default:
			sim.BoundingBox = obj
		}

	case "elements":
		if len(subs) != 1 {
			return nil, false
		}
		t, err := format.Lookup(subs[0])
		if err != nil {
			return nil, false
		}
		sim.Elements = map[format.ElementType]*Object{t: obj}

	case "skin", "elset":
		if len(subs) < 2 {
			return nil, false
		}
		t, err := format.Lookup(subs[len(subs)-1])
		if err != nil {
			return nil, false
		}
		name := strings.Join(subs[:len(subs)-1], ".")
		entry := map[string]map[format.ElementType]*Object{name: {t: obj}}
		if usage == "skin" {
			sim.Skin = entry
		} else {
			sim.Elset = entry
		}

	case "nset", "nodal":
		if len(subs) == 0 {
			return nil, false
		}
		entry := map[string]*Object{strings.Join(subs, "."): obj}
		if usage == "nset" {
			sim.Nset = entry
		} else {
			sim.Nodal = entry
		}

	case "elemental":
		if len(subs) == 0 {
			return nil, false
		}
		last := subs[len(subs)-1]
		e := &Elemental{}
		name := strings.Join(subs, ".")
		if len(subs) > 1 && elementTagPattern.MatchString(last) {
			t, err := format.Lookup(last)
			if err != nil {
				return nil, false
			}
			name = strings.Join(subs[:len(subs)-1], ".")
			e.Typed = map[format.ElementType]*Object{t: obj}
		} else {
			e.Untyped = obj
		}
		sim.Elemental = map[string]*Elemental{name: e}

	default:
		return nil, false
	}

	return Tree{namespace: Dataset{timestep: Timestep{simtype: sim}}}, true
}

// FileKey builds the object key of a file, the inverse of ParseKey.
func FileKey(simtype, timestep string, parts ...string) string {
	return "universe.fo." + simtype + "." + strings.Join(parts, ".") + "@" + timestep
}
