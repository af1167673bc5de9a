// Package schedule manages recurring charging windows.
//
// A window names a station, a cron expression for the window start,
// and a duration. While a window is open the station is flagged for
// scheduled charging, which moves it ahead of equal-priority peers in
// the allocation order, and an optional priority boost is applied.
package schedule
