package smc

// Command identifies an SMC100CC protocol operation. The wire format is
// <address><2-letter code>[<param>|?]\r\n per the controller manual.
type Command int

const (
	CmdNone Command = iota
	CmdAcceleration
	CmdBacklashComp
	CmdDriverVoltage
	CmdHomeSearchType
	CmdLeaveJogging
	CmdJerkTime
	CmdEnable
	CmdHomeSearchVelocity
	CmdHomeSearch
	CmdHomeSearchTimeout
	CmdMoveAbs
	CmdMoveRel
	CmdMoveEstimate
	CmdConfigure
	CmdReset
	CmdNegativeLimit
	CmdPositiveLimit
	CmdStopMotion
	CmdErrorString
	CmdLastError
	CmdPositionAsSet
	CmdPositionReal
	CmdStatus
	CmdVelocity
	CmdRevisionInfo
)

// paramKind tells how a command parameter is formatted on the wire.
type paramKind int

const (
	paramNone paramKind = iota
	paramInt
	paramFloat
)

type commandSpec struct {
	Code  string
	Param paramKind
}

// commandTable pairs each command with its ASCII code (manual p.22-70).
var commandTable = map[Command]commandSpec{
	CmdNone:               {"  ", paramNone},
	CmdAcceleration:       {"AC", paramFloat},
	CmdBacklashComp:       {"BA", paramFloat},
	CmdDriverVoltage:      {"DV", paramFloat},
	CmdHomeSearchType:     {"HT", paramInt},
	CmdLeaveJogging:       {"JD", paramNone},
	CmdJerkTime:           {"JR", paramFloat},
	CmdEnable:             {"MM", paramInt},
	CmdHomeSearchVelocity: {"OH", paramFloat},
	CmdHomeSearch:         {"OR", paramNone},
	CmdHomeSearchTimeout:  {"OT", paramFloat},
	CmdMoveAbs:            {"PA", paramFloat},
	CmdMoveRel:            {"PR", paramFloat},
	CmdMoveEstimate:       {"PT", paramFloat},
	CmdConfigure:          {"PW", paramInt},
	CmdReset:              {"RS", paramNone},
	CmdNegativeLimit:      {"SL", paramFloat},
	CmdPositiveLimit:      {"SR", paramFloat},
	CmdStopMotion:         {"ST", paramNone},
	CmdErrorString:        {"TB", paramNone},
	CmdLastError:          {"TE", paramNone},
	CmdPositionAsSet:      {"TH", paramNone},
	CmdPositionReal:       {"TP", paramNone},
	CmdStatus:             {"TS", paramNone},
	CmdVelocity:           {"VA", paramFloat},
	CmdRevisionInfo:       {"VE", paramNone},
}
