// Package enrich holds the AI enrichment capability: captioning,
// transcription, embeddings, and description synthesis behind one Enricher
// interface, plus embedding fusion.
package enrich
