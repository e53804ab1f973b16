// Package schedule provides the time arithmetic for the sync engine: the
// operational window predicate with its day-of-week mask and closing guard,
// the target timestamp generator, and the inter-cycle interval picker.
//
// All boundary comparisons are inclusive on both ends: a window of
// 07:50-08:10 is active at exactly 07:50:00 and at exactly 08:10:00.
//
// Randomness for targets and intervals comes from crypto/rand. Targets feed
// a clock that is audited against human behavior; a predictable or clustered
// sequence defeats the purpose, so draw quality is a correctness requirement
// here, not a performance knob.
package schedule
