// Package harmony classifies text into one of seven harmony categories and
// scores messages against keyword tables.
//
// # Tables
//
// All scoring is driven by data in [Tables], never by inline control flow:
//
//   - Classification: an ordered list of (harmony, keywords). The first
//     category with a keyword present in the text wins; [Default] otherwise.
//   - Impact: a base score plus clusters that each add their weight once when
//     any keyword is present, plus a per-message-type bonus.
//   - Love: a baseline plus clusters whose weight is added for every keyword present.
//   - Complementary: unordered harmony pairs used by [Tables.Resonance].
//
// Matching is case-insensitive substring matching. Every score is clamped to [0,1].
//
// # Overrides
//
// A YAML file can replace any section of the defaults:
//
//	classification:
//	  - harmony: integral-wisdom-cultivation
//	    keywords: [honest, truth]
//	complementary:
//	  - [integral-wisdom-cultivation, resonant-coherence]
//
// [Source] loads that file and, when watched, reloads it on change.
package harmony
