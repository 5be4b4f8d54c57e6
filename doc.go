// # Live voice sessions for expert consultations
//
// Package live runs one real-time voice call between a local user and a
// streaming speech model that plays the part of a consultant. A [Manager]
// owns at most one [Session] at a time. A session captures microphone frames,
// encodes them as 16-bit PCM blobs and streams them to the remote side
// through a [Transport] (Gemini Live or OpenAI Realtime), and schedules the
// returned audio chunks back to back on a playback device with a cursor so
// playback stays gapless no matter how irregularly the chunks arrive.
//
// Interruptions from the remote side (barge-in) stop every active buffer and
// rewind the cursor to the device clock. Transport failures are fatal and end
// the call; malformed audio chunks are dropped and logged.
//
// Lifecycle, speaking state, mute state and an elapsed-time tick are reported
// to an [EventHandler] on a dedicated goroutine, never on the audio
// callbacks.
package live
