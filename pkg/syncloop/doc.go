// Package syncloop implements the synchronization control loop.
//
// The loop is a single cooperative control flow per terminal. Outside the
// operational window it sleeps until the next opening. Inside the window it
// repeatedly generates a target clock value, pushes it to the terminal, and
// sleeps a randomized interval, re-evaluating the window on every cycle.
// When the window closes the loop restores the authentic clock and tears the
// session down.
//
// The loop blocks only in bounded link I/O and the inter-cycle sleep, and
// both unblock immediately on context cancellation. The fail-safe controller
// uses that property: it interrupts the loop and performs the emergency
// restore without waiting for the current cycle to finish.
package syncloop
