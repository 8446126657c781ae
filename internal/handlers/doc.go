// Package handlers contains the per-stage units of work for each asset
// pipeline: media probing, thumbnail generation, AI captioning and
// transcription, embedding fusion behind the frame fan-in barrier,
// description synthesis, and the final completeness gate. Handlers mutate
// the record's payload fields; status transitions belong to the dispatcher.
package handlers
