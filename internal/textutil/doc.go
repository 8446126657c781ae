// Package textutil provides small text helpers shared by the enrichment
// stages: filesystem-safe tokens for work files derived from record keys,
// and whitespace normalization for model output before it is persisted.
package textutil
