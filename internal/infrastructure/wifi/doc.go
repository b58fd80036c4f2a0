// Package wifi reports and drives the host's network link for the bridge.
//
// On a Linux host the radio is managed by the OS. Station observes a network
// interface and can optionally run a command to (re)start association, such
// as "nmcli device connect wlan0".
//
// # Configuration
//
//	wifi:
//	  interface: "wlan0"           # empty: any non-loopback IPv4 interface; required with associate_command
//	  associate_command: ["nmcli", "device", "connect", "wlan0"]
//	  associate_retry: 0s          # 0: run the command once per link loss
package wifi
