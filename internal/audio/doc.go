// Package audio provides the audio backends behind the device session:
// playback streams using oto/v3, microphone capture using malgo, and mock
// implementations that simulate both without hardware.
package audio
