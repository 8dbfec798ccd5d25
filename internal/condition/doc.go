// Package condition evaluates AND/OR condition trees against an entity
// transition.
//
// Evaluation is a pure function of the tree and the transition: no I/O,
// no logging, no collaborator calls. Field paths are resolved through a
// Resolver so the same tree can be evaluated against any record source.
//
// Semantics:
//   - AND stops at the first false child, OR at the first true child.
//     An empty group is true.
//   - A missing field, or one holding null, makes every comparison false
//     except not_equals, which is true. is_null and is_not_null are the
//     only operators for which absence is meaningful.
//   - changed_to needs a prior value: it is true only when the field is
//     present on both sides, the values differ and the new value equals
//     the target. An explicit null prior value counts as present.
//   - Paths with a dot resolve first against the entity, then against the
//     preloaded related records ("contact.email").
//
// Operators are checked when a definition is authored or loaded (see
// Validate), never at evaluation time.
package condition
