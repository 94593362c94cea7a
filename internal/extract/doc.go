// Package extract selects the determination result from working memory
// after rule evaluation.
//
// A fact is a candidate when its runtime type is the target type or a
// direct subtype of it. Deeper descendants are not candidates. When several
// facts qualify the earliest inserted one wins and the rest are dropped;
// the number of candidates is reported so callers can surface ambiguity.
package extract
