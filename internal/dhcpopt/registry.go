package dhcpopt

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"slices"
)

// Kind is the shape of an option value.
type Kind uint8

// Kind values.
const (
	KindUint8 Kind = iota + 1
	KindUint16
	KindUint32
	KindString
	KindOpaque
	KindIP
	KindIPList
	KindUint8List
	KindUint16List
	KindDomainName
	KindDomainNameList
	KindStatusCode
	KindIAAddr
	KindIAPrefix
	KindIANA
	KindIATA
	KindIAPD
)

// DHCPv4 option codes, see RFC 2132.
const (
	Code4Pad                Code = 0
	Code4SubnetMask         Code = 1
	Code4TimeOffset         Code = 2
	Code4Router             Code = 3
	Code4TimeServer         Code = 4
	Code4NameServer         Code = 5
	Code4DomainNameServer   Code = 6
	Code4LogServer          Code = 7
	Code4HostName           Code = 12
	Code4BootFileSize       Code = 13
	Code4DomainName         Code = 15
	Code4RootPath           Code = 17
	Code4IPForwarding       Code = 19
	Code4SourceRouting      Code = 20
	Code4MaxDatagramSize    Code = 22
	Code4DefaultIPTTL       Code = 23
	Code4PathMTUAgingTime   Code = 24
	Code4PathMTUPlateaus    Code = 25
	Code4InterfaceMTU       Code = 26
	Code4AllSubnetsLocal    Code = 27
	Code4BroadcastAddr      Code = 28
	Code4MaskDiscovery      Code = 29
	Code4MaskSupplier       Code = 30
	Code4RouterDiscovery    Code = 31
	Code4RouterSolicitAddr  Code = 32
	Code4ARPTrailers        Code = 34
	Code4ARPTimeout         Code = 35
	Code4EthernetEncap      Code = 36
	Code4TCPTTL             Code = 37
	Code4TCPKeepAliveTime   Code = 38
	Code4TCPKeepAliveData   Code = 39
	Code4NISDomain          Code = 40
	Code4NISServers         Code = 41
	Code4NTPServers         Code = 42
	Code4VendorSpecific     Code = 43
	Code4NetBIOSNameServers Code = 44
	Code4NetBIOSNodeType    Code = 46
	Code4RequestedIP        Code = 50
	Code4LeaseTime          Code = 51
	Code4Overload           Code = 52
	Code4MessageType        Code = 53
	Code4ServerID           Code = 54
	Code4ParamRequestList   Code = 55
	Code4Message            Code = 56
	Code4MaxMessageSize     Code = 57
	Code4RenewalTime        Code = 58
	Code4RebindingTime      Code = 59
	Code4VendorClassID      Code = 60
	Code4ClientID           Code = 61
	Code4TFTPServerName     Code = 66
	Code4BootfileName       Code = 67
	Code4UserClass          Code = 77
	Code4ClientFQDN         Code = 81
	Code4RelayAgentInfo     Code = 82
	Code4ClientArch         Code = 93
	Code4ClientNDI          Code = 94
	Code4ClientUUID         Code = 97
	Code4DomainSearch       Code = 119
	Code4ClasslessRoute     Code = 121
	Code4VIVendorClass      Code = 124
	Code4VIVendorSpecific   Code = 125
	Code4End                Code = 255
)

// DHCPv6 option codes, see RFC 8415 and the IANA registry.
const (
	Code6ClientID         Code = 1
	Code6ServerID         Code = 2
	Code6IANA             Code = 3
	Code6IATA             Code = 4
	Code6IAAddr           Code = 5
	Code6ORO              Code = 6
	Code6Preference       Code = 7
	Code6ElapsedTime      Code = 8
	Code6RelayMessage     Code = 9
	Code6Auth             Code = 11
	Code6Unicast          Code = 12
	Code6StatusCode       Code = 13
	Code6RapidCommit      Code = 14
	Code6UserClass        Code = 15
	Code6VendorClass      Code = 16
	Code6VendorOpts       Code = 17
	Code6InterfaceID      Code = 18
	Code6ReconfMsg        Code = 19
	Code6ReconfAccept     Code = 20
	Code6SIPServerDomains Code = 21
	Code6SIPServerAddrs   Code = 22
	Code6DNSServers       Code = 23
	Code6DomainList       Code = 24
	Code6IAPD             Code = 25
	Code6IAPrefix         Code = 26
	Code6NISServers       Code = 27
	Code6NISDomain        Code = 29
	Code6SNTPServers      Code = 31
	Code6InfoRefreshTime  Code = 32
	Code6RemoteID         Code = 37
	Code6SubscriberID     Code = 38
	Code6ClientFQDN       Code = 39
	Code6NTPServer        Code = 56
	Code6BootfileURL      Code = 59
	Code6BootfileParam    Code = 60
	Code6ClientArch       Code = 61
	Code6AFTRName         Code = 64
	Code6ClientLinkLayer  Code = 79
	Code6SolMaxRT         Code = 82
	Code6InfMaxRT         Code = 83
)

// definition describes a registered option code.
type definition struct {
	name string
	kind Kind
}

// definitions4 are the known DHCPv4 options.
var definitions4 = map[Code]definition{
	Code4SubnetMask:         {name: "subnet-mask", kind: KindIP},
	Code4TimeOffset:         {name: "time-offset", kind: KindUint32},
	Code4Router:             {name: "routers", kind: KindIPList},
	Code4TimeServer:         {name: "time-servers", kind: KindIPList},
	Code4NameServer:         {name: "name-servers", kind: KindIPList},
	Code4DomainNameServer:   {name: "domain-name-servers", kind: KindIPList},
	Code4LogServer:          {name: "log-servers", kind: KindIPList},
	Code4HostName:           {name: "host-name", kind: KindString},
	Code4BootFileSize:       {name: "boot-size", kind: KindUint16},
	Code4DomainName:         {name: "domain-name", kind: KindString},
	Code4RootPath:           {name: "root-path", kind: KindString},
	Code4IPForwarding:       {name: "ip-forwarding", kind: KindUint8},
	Code4SourceRouting:      {name: "non-local-source-routing", kind: KindUint8},
	Code4MaxDatagramSize:    {name: "max-dgram-reassembly", kind: KindUint16},
	Code4DefaultIPTTL:       {name: "default-ip-ttl", kind: KindUint8},
	Code4PathMTUAgingTime:   {name: "path-mtu-aging-timeout", kind: KindUint32},
	Code4PathMTUPlateaus:    {name: "path-mtu-plateau-table", kind: KindUint16List},
	Code4InterfaceMTU:       {name: "interface-mtu", kind: KindUint16},
	Code4AllSubnetsLocal:    {name: "all-subnets-local", kind: KindUint8},
	Code4BroadcastAddr:      {name: "broadcast-address", kind: KindIP},
	Code4MaskDiscovery:      {name: "perform-mask-discovery", kind: KindUint8},
	Code4MaskSupplier:       {name: "mask-supplier", kind: KindUint8},
	Code4RouterDiscovery:    {name: "router-discovery", kind: KindUint8},
	Code4RouterSolicitAddr:  {name: "router-solicitation-address", kind: KindIP},
	Code4ARPTrailers:        {name: "trailer-encapsulation", kind: KindUint8},
	Code4ARPTimeout:         {name: "arp-cache-timeout", kind: KindUint32},
	Code4EthernetEncap:      {name: "ieee802-3-encapsulation", kind: KindUint8},
	Code4TCPTTL:             {name: "default-tcp-ttl", kind: KindUint8},
	Code4TCPKeepAliveTime:   {name: "tcp-keepalive-interval", kind: KindUint32},
	Code4TCPKeepAliveData:   {name: "tcp-keepalive-garbage", kind: KindUint8},
	Code4NISDomain:          {name: "nis-domain", kind: KindString},
	Code4NISServers:         {name: "nis-servers", kind: KindIPList},
	Code4NTPServers:         {name: "ntp-servers", kind: KindIPList},
	Code4VendorSpecific:     {name: "vendor-encapsulated-options", kind: KindOpaque},
	Code4NetBIOSNameServers: {name: "netbios-name-servers", kind: KindIPList},
	Code4NetBIOSNodeType:    {name: "netbios-node-type", kind: KindUint8},
	Code4RequestedIP:        {name: "dhcp-requested-address", kind: KindIP},
	Code4LeaseTime:          {name: "dhcp-lease-time", kind: KindUint32},
	Code4Overload:           {name: "dhcp-option-overload", kind: KindUint8},
	Code4MessageType:        {name: "dhcp-message-type", kind: KindUint8},
	Code4ServerID:           {name: "dhcp-server-identifier", kind: KindIP},
	Code4ParamRequestList:   {name: "dhcp-parameter-request-list", kind: KindUint8List},
	Code4Message:            {name: "dhcp-message", kind: KindString},
	Code4MaxMessageSize:     {name: "dhcp-max-message-size", kind: KindUint16},
	Code4RenewalTime:        {name: "dhcp-renewal-time", kind: KindUint32},
	Code4RebindingTime:      {name: "dhcp-rebinding-time", kind: KindUint32},
	Code4VendorClassID:      {name: "vendor-class-identifier", kind: KindOpaque},
	Code4ClientID:           {name: "dhcp-client-identifier", kind: KindOpaque},
	Code4TFTPServerName:     {name: "tftp-server-name", kind: KindString},
	Code4BootfileName:       {name: "boot-file-name", kind: KindString},
	Code4UserClass:          {name: "user-class", kind: KindOpaque},
	Code4ClientFQDN:         {name: "fqdn", kind: KindOpaque},
	Code4RelayAgentInfo:     {name: "dhcp-agent-options", kind: KindOpaque},
	Code4ClientArch:         {name: "pxe-system-type", kind: KindUint16List},
	Code4ClientNDI:          {name: "pxe-interface-id", kind: KindOpaque},
	Code4ClientUUID:         {name: "pxe-client-id", kind: KindOpaque},
	Code4DomainSearch:       {name: "domain-search", kind: KindDomainNameList},
	Code4ClasslessRoute:     {name: "classless-static-route", kind: KindOpaque},
	Code4VIVendorClass:      {name: "vivco-suboptions", kind: KindOpaque},
	Code4VIVendorSpecific:   {name: "vivso-suboptions", kind: KindOpaque},
}

// definitions6 are the known DHCPv6 options.
var definitions6 = map[Code]definition{
	Code6ClientID:         {name: "clientid", kind: KindOpaque},
	Code6ServerID:         {name: "serverid", kind: KindOpaque},
	Code6IANA:             {name: "ia-na", kind: KindIANA},
	Code6IATA:             {name: "ia-ta", kind: KindIATA},
	Code6IAAddr:           {name: "iaaddr", kind: KindIAAddr},
	Code6ORO:              {name: "oro", kind: KindUint16List},
	Code6Preference:       {name: "preference", kind: KindUint8},
	Code6ElapsedTime:      {name: "elapsed-time", kind: KindUint16},
	Code6RelayMessage:     {name: "relay-msg", kind: KindOpaque},
	Code6Auth:             {name: "auth", kind: KindOpaque},
	Code6Unicast:          {name: "unicast", kind: KindIP},
	Code6StatusCode:       {name: "status-code", kind: KindStatusCode},
	Code6RapidCommit:      {name: "rapid-commit", kind: KindOpaque},
	Code6UserClass:        {name: "user-class", kind: KindOpaque},
	Code6VendorClass:      {name: "vendor-class", kind: KindOpaque},
	Code6VendorOpts:       {name: "vendor-opts", kind: KindOpaque},
	Code6InterfaceID:      {name: "interface-id", kind: KindOpaque},
	Code6ReconfMsg:        {name: "reconf-msg", kind: KindUint8},
	Code6ReconfAccept:     {name: "reconf-accept", kind: KindOpaque},
	Code6SIPServerDomains: {name: "sip-server-dns", kind: KindDomainNameList},
	Code6SIPServerAddrs:   {name: "sip-server-addr", kind: KindIPList},
	Code6DNSServers:       {name: "dns-servers", kind: KindIPList},
	Code6DomainList:       {name: "domain-search", kind: KindDomainNameList},
	Code6IAPD:             {name: "ia-pd", kind: KindIAPD},
	Code6IAPrefix:         {name: "iaprefix", kind: KindIAPrefix},
	Code6NISServers:       {name: "nis-servers", kind: KindIPList},
	Code6NISDomain:        {name: "nis-domain-name", kind: KindDomainNameList},
	Code6SNTPServers:      {name: "sntp-servers", kind: KindIPList},
	Code6InfoRefreshTime:  {name: "information-refresh-time", kind: KindUint32},
	Code6RemoteID:         {name: "remote-id", kind: KindOpaque},
	Code6SubscriberID:     {name: "subscriber-id", kind: KindOpaque},
	Code6ClientFQDN:       {name: "client-fqdn", kind: KindOpaque},
	Code6NTPServer:        {name: "ntp-server", kind: KindOpaque},
	Code6BootfileURL:      {name: "bootfile-url", kind: KindString},
	Code6BootfileParam:    {name: "bootfile-param", kind: KindOpaque},
	Code6ClientArch:       {name: "client-arch-type", kind: KindUint16List},
	Code6AFTRName:         {name: "aftr-name", kind: KindDomainName},
	Code6ClientLinkLayer:  {name: "client-linklayer-addr", kind: KindOpaque},
	Code6SolMaxRT:         {name: "sol-max-rt", kind: KindUint32},
	Code6InfMaxRT:         {name: "inf-max-rt", kind: KindUint32},
}

// lookup returns the definition of c within f.
func lookup(f Family, c Code) (def definition, ok bool) {
	switch f {
	case FamilyV4:
		def, ok = definitions4[c]
	case FamilyV6:
		def, ok = definitions6[c]
	}

	return def, ok
}

// Known returns true if c is a registered option code within f.
func Known(f Family, c Code) (ok bool) {
	_, ok = lookup(f, c)

	return ok
}

// KindOf returns the kind of the option with code c within f.  It returns 0
// if c is not registered.
func KindOf(f Family, c Code) (k Kind) {
	def, _ := lookup(f, c)

	return def.kind
}

// Name returns the name of the option with code c within f, or its number if
// c is not registered.
func Name(f Family, c Code) (name string) {
	def, ok := lookup(f, c)
	if !ok {
		return fmt.Sprintf("option-%d", c)
	}

	return def.name
}

// Decode decodes the payload of the option with code c within f.  data is not
// cloned.
func Decode(f Family, c Code, data []byte) (opt Option, err error) {
	def, ok := lookup(f, c)
	if !ok {
		return nil, fmt.Errorf("%s option %d: %w", f, c, ErrUnknownCode)
	}

	return decodeKind(f, def.kind, c, data)
}

// decodeKind decodes data as an option of kind k.
func decodeKind(f Family, k Kind, c Code, data []byte) (opt Option, err error) {
	switch k {
	case KindUint8, KindUint16, KindUint32:
		return decodeUint(k, c, data)
	case KindString:
		return NewString(c, string(data)), nil
	case KindOpaque:
		return NewOpaque(c, data), nil
	case KindIP, KindIPList:
		return decodeIPs(f, k, c, data)
	case KindUint8List:
		return NewUint8List(c, data...), nil
	case KindUint16List:
		return decodeUint16List(c, data)
	case KindDomainName, KindDomainNameList:
		return decodeNames(k, c, data)
	case KindStatusCode:
		return decodeStatusCode(data)
	case KindIAAddr:
		return decodeIAAddr(data)
	case KindIAPrefix:
		return decodeIAPrefix(data)
	case KindIANA:
		return decodeIANA(data)
	case KindIATA:
		return decodeIATA(data)
	case KindIAPD:
		return decodeIAPD(data)
	default:
		panic(fmt.Errorf("option %d: bad kind %d", c, k))
	}
}

// decodeUint decodes a fixed-size unsigned integer option.
func decodeUint(k Kind, c Code, data []byte) (opt Option, err error) {
	switch {
	case k == KindUint8 && len(data) == 1:
		return NewUint8(c, data[0]), nil
	case k == KindUint16 && len(data) == 2:
		return NewUint16(c, binary.BigEndian.Uint16(data)), nil
	case k == KindUint32 && len(data) == 4:
		return NewUint32(c, binary.BigEndian.Uint32(data)), nil
	default:
		return nil, newLenError(c, len(data))
	}
}

// decodeIPs decodes an address or a list of addresses of family f.
func decodeIPs(f Family, k Kind, c Code, data []byte) (opt Option, err error) {
	size := net4Len
	if f == FamilyV6 {
		size = net6Len
	}

	if len(data) == 0 || len(data)%size != 0 || (k == KindIP && len(data) != size) {
		return nil, newLenError(c, len(data))
	}

	ips := make([]netip.Addr, 0, len(data)/size)
	for chunk := range slices.Chunk(data, size) {
		ip, _ := netip.AddrFromSlice(chunk)
		ips = append(ips, ip)
	}

	if k == KindIP {
		return NewIP(c, ips[0]), nil
	}

	return NewIPList(c, ips...), nil
}

// Address lengths.
const (
	net4Len = 4
	net6Len = 16
)

// decodeUint16List decodes a list of two-byte values.
func decodeUint16List(c Code, data []byte) (opt Option, err error) {
	if len(data)%2 != 0 {
		return nil, newLenError(c, len(data))
	}

	vals := make([]uint16, 0, len(data)/2)
	for chunk := range slices.Chunk(data, 2) {
		vals = append(vals, binary.BigEndian.Uint16(chunk))
	}

	return NewUint16List(c, vals...), nil
}

// decodeNames decodes a domain name or a list of domain names.
func decodeNames(k Kind, c Code, data []byte) (opt Option, err error) {
	names, err := unpackNames(c, data)
	if err != nil {
		return nil, err
	}

	if k == KindDomainNameList {
		return NewDomainNameList(c, names...)
	}

	if len(names) != 1 {
		return nil, fmt.Errorf("option %d: want exactly one domain name, got %d", c, len(names))
	}

	return NewDomainName(c, names[0])
}
