package nll2tp

// Generic netlink family name the kernel's l2tp module registers, and the
// command/attribute numbering of its genl protocol, per
// include/uapi/linux/l2tp.h.
const GenlName = "l2tp"

// Commands (enum l2tp_cmd_attrs).
const (
	CmdNoop = iota
	CmdTunnelCreate
	CmdTunnelDelete
	CmdTunnelModify
	CmdTunnelGet
	CmdSessionCreate
	CmdSessionDelete
	CmdSessionModify
	CmdSessionGet
)

// Attributes (enum l2tp_attrs).
const (
	AttrNone = iota
	AttrPwType
	AttrEncapType
	AttrOffset
	AttrDataSeq
	AttrL2specType
	AttrL2specLen
	AttrProtoVersion
	AttrConnId
	AttrPeerConnId
	AttrSessionId
	AttrPeerSessionId
	AttrUdpCsum
	AttrVlanId
	AttrCookie
	AttrPeerCookie
	AttrDebug
	AttrRecvSeq
	AttrSendSeq
	AttrLnsMode
	AttrUsingIpsec
	AttrRecvTimeout
	AttrFd
	AttrIpSaddr
	AttrIpDaddr
	AttrUdpSport
	AttrUdpDport
	AttrMtu
	AttrMru
	AttrStats
	AttrIp6Saddr
	AttrIp6Daddr
	AttrUdpZeroCsum6Tx
	AttrUdpZeroCsum6Rx
	AttrPad
)

// L2tpPwtype is the pseudowire type carried by a session (enum l2tp_pwtype).
type L2tpPwtype uint16

const (
	PwtypeNone L2tpPwtype = iota
	PwtypeEthVlan
	PwtypeEth
	PwtypePPP
	PwtypePPPAC
	PwtypeIP
)

// L2tpEncapType is the tunnel's wire encapsulation (enum l2tp_encap_type).
type L2tpEncapType uint16

const (
	EncaptypeUdp L2tpEncapType = iota
	EncaptypeIp
)

// L2tpDebugFlags mirrors the kernel module's per-tunnel debug mask; this
// repository never reads it back, only forwards whatever the caller set.
type L2tpDebugFlags uint32
