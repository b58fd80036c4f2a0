// Package serial provides line-oriented access to the UART link.
//
// It wraps go.bug.st/serial with the framing the microcontroller side
// expects:
//
//   - Reads stop at '\n', at the frame capacity, or after the inter-byte
//     read timeout, whichever comes first.
//   - The terminator is consumed and not returned.
//   - Bytes beyond a full buffer stay queued for the next read.
//   - Available peeks without blocking so a cooperative loop can poll it.
//
// # Configuration
//
//	serial:
//	  port: "/dev/ttyS0"
//	  baud: 57600
//	  read_timeout: 500ms
//	  frame_capacity: 100
package serial
