// Package snapshot builds VfsSnapshot views by replaying an operation log
// backward under a Filler policy: Build walks an oplog.Iterator
// from a chosen position and fills in FileRecord properties and attribute
// references the first time (i.e. most recently) each is written.
package snapshot

import (
	"vfsrecovery/internal/oplog"
	"vfsrecovery/internal/vfsmodel"
)

// Constraint restricts which operations a Filler considers. A nil
// Constraint matches everything.
type Constraint func(op oplog.Operation) bool

// InFileIDRange returns a Constraint matching RecordsOperation/
// AttributesOperation entries whose fileId falls in [lo, hi].
func InFileIDRange(lo, hi vfsmodel.FileID) Constraint {
	return func(op oplog.Operation) bool {
		return op.FileID >= lo && op.FileID <= hi
	}
}

// OnlyFileID returns a Constraint matching a single fileId.
func OnlyFileID(id vfsmodel.FileID) Constraint {
	return InFileIDRange(id, id)
}

// Filler is a composable replay policy: which scalar fields to fill,
// whether to fill attributes, and which operations to consider at all.
//
// Scalar fields are always "newest write wins": a backward walk visits the
// most recent write to a given (fileId, field) first, so "fill only if
// still unset" already implements newest-wins without a separate mode.
// Attributes additionally accumulate across distinct (fileId, attrKey)
// pairs rather than a single slot per fileId.
type Filler struct {
	fields            map[vfsmodel.Field]bool
	includeAttributes bool
	constraint        Constraint
}

// ToFiller lifts a single property selector into a Filler with no
// constraint.
func ToFiller(field vfsmodel.Field) Filler {
	return Filler{fields: map[vfsmodel.Field]bool{field: true}}
}

// AttributesFiller is a Filler that fills only the attribute map.
func AttributesFiller() Filler {
	return Filler{includeAttributes: true}
}

// AllScalarFieldsFiller fills every scalar FileRecord field.
func AllScalarFieldsFiller() Filler {
	f := Filler{fields: make(map[vfsmodel.Field]bool, len(vfsmodel.AllFields))}
	for _, fld := range vfsmodel.AllFields {
		f.fields[fld] = true
	}
	return f
}

// Sum unions the effects of fillers: the result fills every field any
// constituent fills, includes attributes if any constituent does, and
// matches an operation if it matches at least one constituent's
// constraint (a Filler with no constraint matches everything).
func Sum(fillers ...Filler) Filler {
	out := Filler{fields: make(map[vfsmodel.Field]bool)}
	var constraints []Constraint
	unconstrained := false
	for _, f := range fillers {
		for fld := range f.fields {
			out.fields[fld] = true
		}
		if f.includeAttributes {
			out.includeAttributes = true
		}
		if f.constraint == nil {
			unconstrained = true
		} else {
			constraints = append(constraints, f.constraint)
		}
	}
	if unconstrained {
		return out // an unconstrained constituent makes the union unconstrained
	}
	out.constraint = func(op oplog.Operation) bool {
		for _, c := range constraints {
			if c(op) {
				return true
			}
		}
		return false
	}
	return out
}

// Constrain restricts f to operations additionally matching c.
func (f Filler) Constrain(c Constraint) Filler {
	prev := f.constraint
	f.constraint = func(op oplog.Operation) bool {
		if prev != nil && !prev(op) {
			return false
		}
		return c(op)
	}
	return f
}

// matches reports whether op should be considered at all under f.
func (f Filler) matches(op oplog.Operation) bool {
	if f.constraint == nil {
		return true
	}
	return f.constraint(op)
}

// mask translates f's property selection into the oplog tag mask the
// iterator's filtered read uses to skip irrelevant operations cheaply.
func (f Filler) mask() oplog.TagMask {
	var tags []oplog.Tag
	for fld := range f.fields {
		switch fld {
		case vfsmodel.FieldParentID:
			tags = append(tags, oplog.TagSetParentID)
		case vfsmodel.FieldNameID:
			tags = append(tags, oplog.TagSetNameID)
		case vfsmodel.FieldLength:
			tags = append(tags, oplog.TagSetLength)
		case vfsmodel.FieldTimestamp:
			tags = append(tags, oplog.TagSetTimestamp)
		case vfsmodel.FieldFlags:
			tags = append(tags, oplog.TagSetFlags)
		case vfsmodel.FieldContentID:
			tags = append(tags, oplog.TagSetContentID)
		}
	}
	if f.includeAttributes {
		tags = append(tags, oplog.TagSetAttribute)
	}
	return oplog.NewTagMask(tags...)
}
