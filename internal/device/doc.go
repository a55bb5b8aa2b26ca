// Package device owns the single physical audio device. Callers acquire an
// exclusive Handle in either record or playback routing, and must release it
// before anyone else can acquire the device again.
package device
