// Command AdGuardDHCP is a DHCPv4 and DHCPv6 server.
package main

import (
	"github.com/AdguardTeam/AdGuardDHCP/internal/cmd"
)

func main() {
	cmd.Main()
}
