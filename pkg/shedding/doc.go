// Package shedding implements the hysteretic load shedding state machine.
//
// Levels run 0 (none) through 5 (most aggressive). Each level names the
// priority threshold of affected stations and the action taken. The
// load ratio is smoothed over a rolling window and compared against
// hysteresis thresholds, so the level neither chatters inside the band
// nor reacts to single-sample spikes.
package shedding
