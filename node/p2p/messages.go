package p2p

const (
	CmdVersion = "version"
	CmdVerack  = "verack"
	CmdReject  = "reject"

	CmdInv       = "inv"
	CmdGetData   = "getdata"
	CmdNotFound  = "notfound"
	CmdGetBlocks = "getblocks"
	CmdBlock     = "block"
	CmdPing      = "ping"
	CmdPong      = "pong"
)

const (
	RejectMalformed   = 0x01
	RejectInvalid     = 0x10
	RejectObsolete    = 0x11
	RejectDuplicate   = 0x12
	RejectNonstandard = 0x40
)
