package flow

import (
	"fmt"
	"strings"
)

// Field identifies a displayable and sortable column.
type Field int

const (
	FieldFqdn Field = iota
	FieldIP
	FieldPort
	FieldProto
	FieldType
	FieldDir

	FieldPkts
	FieldPktsRate
	FieldBytes
	FieldBytesRate

	FieldSyn
	FieldSynAck
	FieldFin
	FieldRst
	FieldZwin
	FieldMtu

	FieldConn
	FieldConnRate
	FieldCtP95
	FieldCtP99
	FieldCtMax
	FieldActiveConnections
	FieldFailedConnections
	FieldClose
	FieldCloseRate

	FieldSrt
	FieldSrtRate
	FieldSrtP95
	FieldSrtP99
	FieldSrtMax
	FieldDsP95
	FieldDsP99
	FieldDsMax

	FieldReq
	FieldReqRate
	FieldTimeouts
	FieldNxdomain
	FieldErrors
	FieldTrunc

	numFields
)

var fieldNames = [numFields]string{
	FieldFqdn:              "FQDN",
	FieldIP:                "IP",
	FieldPort:              "PORT",
	FieldProto:             "PROTO",
	FieldType:              "TYPE",
	FieldDir:               "DIR",
	FieldPkts:              "PKTS",
	FieldPktsRate:          "PKTS_RATE",
	FieldBytes:             "BYTES",
	FieldBytesRate:         "BYTES_RATE",
	FieldSyn:               "SYN",
	FieldSynAck:            "SYNACK",
	FieldFin:               "FIN",
	FieldRst:               "RST",
	FieldZwin:              "ZWIN",
	FieldMtu:               "MTU",
	FieldConn:              "CONN",
	FieldConnRate:          "CONN_RATE",
	FieldCtP95:             "CT_P95",
	FieldCtP99:             "CT_P99",
	FieldCtMax:             "CTMAX",
	FieldActiveConnections: "ACTIVE_CONNECTIONS",
	FieldFailedConnections: "FAILED_CONNECTIONS",
	FieldClose:             "CLOSE",
	FieldCloseRate:         "CLOSE_RATE",
	FieldSrt:               "SRT",
	FieldSrtRate:           "SRT_RATE",
	FieldSrtP95:            "SRT_P95",
	FieldSrtP99:            "SRT_P99",
	FieldSrtMax:            "SRTMAX",
	FieldDsP95:             "DS_P95",
	FieldDsP99:             "DS_P99",
	FieldDsMax:             "DSMAX",
	FieldReq:               "REQ",
	FieldReqRate:           "REQ_RATE",
	FieldTimeouts:          "TIMEOUTS",
	FieldNxdomain:          "NXDOMAIN",
	FieldErrors:            "ERRORS",
	FieldTrunc:             "TRUNC",
}

// Column widths used when rendering fixed-width rows.
var fieldWidths = map[Field]int{
	FieldFqdn:  32,
	FieldIP:    40,
	FieldPort:  6,
	FieldProto: 6,
	FieldType:  7,
	FieldDir:   4,
}

const defaultFieldWidth = 10

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldNames[f]
}

// Width is the column width used for fixed-width output.
func (f Field) Width() int {
	if w, ok := fieldWidths[f]; ok {
		return w
	}
	return max(defaultFieldWidth, len(f.String())+1)
}

// Header returns the field name padded to its column width.
func (f Field) Header() string {
	return Pad(f.String(), f.Width())
}

// ParseField resolves a field from its name, case-insensitively.
func ParseField(name string) (Field, error) {
	for i, n := range fieldNames {
		if strings.EqualFold(n, name) {
			return Field(i), nil
		}
	}
	return FieldFqdn, fmt.Errorf("unknown field %q", name)
}

// Pad truncates or right-pads s to exactly width characters.
func Pad(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}
