// Package media wraps the ffprobe/ffmpeg subprocess calls the stage handlers
// need: duration and audio-stream probing, thumbnail extraction, and audio
// extraction. Every invocation runs under the caller's context so a timeout
// kills the subprocess instead of leaking it.
package media
