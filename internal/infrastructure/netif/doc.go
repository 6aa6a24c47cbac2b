// Package netif implements connectivity.LinkDriver for Linux hosts.
//
// Driver associates through NetworkManager's nmcli and observes the
// result through sysfs and procfs:
//
//	association  nmcli --wait N device wifi connect SSID password PW ifname IFACE
//	link state   /sys/class/net/IFACE/operstate
//	signal level /proc/net/wireless
//
// nmcli runs in a background goroutine so Begin returns immediately, as
// the supervisor tick requires. Its exit status refines the failure
// classification: 10 means the network was not found, 4 means activation
// was refused (usually a wrong passphrase).
//
// Static is a driver for wired or otherwise always-associated hosts: it
// never issues commands and reports the interface state only.
package netif
