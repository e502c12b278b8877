package smc

// StatusType is the controller state reported by the TS command.
type StatusType int

const (
	StatusUnknown StatusType = iota
	StatusNoReference
	StatusConfig
	StatusHoming
	StatusMoving
	StatusReady
	StatusDisabled
	StatusJogging
	StatusError
)

func (t StatusType) String() string {
	switch t {
	case StatusNoReference:
		return "No Reference"
	case StatusConfig:
		return "Configuration"
	case StatusHoming:
		return "Homing"
	case StatusMoving:
		return "Moving"
	case StatusReady:
		return "Ready"
	case StatusDisabled:
		return "Disabled"
	case StatusJogging:
		return "Jogging"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Status carries the decoded state plus the raw 2-char code so unmapped
// codes remain reportable.
type Status struct {
	Type StatusType
	Code string
}

func (s Status) String() string {
	if s.Type == StatusUnknown {
		return "Unknown Status Code: " + s.Code
	}
	return s.Type.String()
}

// statusTable maps TS state codes to controller states (manual p.65).
var statusTable = map[string]StatusType{
	"0A": StatusNoReference, // not referenced from reset
	"0B": StatusNoReference, // not referenced from homing
	"0C": StatusNoReference, // not referenced from config
	"0D": StatusNoReference, // not referenced from disable
	"0E": StatusNoReference, // not referenced from moving
	"0F": StatusNoReference, // not referenced from ready
	"10": StatusNoReference, // ESP stage error
	"11": StatusNoReference, // not referenced from jogging
	"14": StatusConfig,
	"1E": StatusHoming, // commanded from RS-232-C
	"1F": StatusHoming, // commanded by SMC-RC
	"28": StatusMoving,
	"32": StatusReady, // from homing
	"33": StatusReady, // from moving
	"34": StatusReady, // from disable
	"35": StatusReady, // from jogging
	"3C": StatusDisabled,
	"3D": StatusDisabled,
	"3E": StatusDisabled,
	"46": StatusJogging,
	"47": StatusJogging,
}

// errorText converts a TE error char to plain text (manual p.61).
func errorText(c byte) string {
	switch c {
	case '@':
		return "No Error Encountered"
	case 'A':
		return "Unknown message"
	case 'B':
		return "Incorrect address"
	case 'C':
		return "Parameter missing"
	case 'D':
		return "Command not allowed"
	case 'E':
		return "Already homing"
	case 'F':
		return "ESP stage unknown"
	case 'G':
		return "Displacement out of limits"
	case 'H':
		return "Not allowed in NOT REFERENCED"
	case 'I':
		return "Not allowed in CONFIGURATION"
	case 'J':
		return "Not allowed in DISABLED"
	case 'K':
		return "Not allowed in READY"
	case 'L':
		return "Not allowed in HOMING"
	case 'M':
		return "Not allowed in MOVING"
	case 'N':
		return "Out of soft limits"
	case 'S':
		return "Communication time out"
	case 'U':
		return "EEPROM error"
	case 'V':
		return "Error during command execution"
	case 'W':
		return "Command not allowed for PP"
	case 'X':
		return "Command not allowed for CC"
	default:
		return "0"
	}
}
