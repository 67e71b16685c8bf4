package wire

import (
	"strconv"
	"strings"

	"github.com/joeycumines/raid5/internal/raiderr"
)

// Separator is the multicast field separator. spec.md §9 open question (d)
// leaves the exact byte unspecified; 0x1F (ASCII Unit Separator) is picked
// and held constant across both sides.
const Separator = 0x1F

// Declaration is one Block Device's periodic multicast beacon (spec.md
// §4.7, §6).
type Declaration struct {
	DiskUUID   string
	BindPort   int
	VolumeUUID string
}

// Encode reproduces declarer_socket.py's create_content field order
// exactly: disk_uuid, SEP, bind_port, SEP, volume_uuid, SEP, SEP — a
// trailing double separator terminates the datagram.
func (d Declaration) Encode() []byte {
	sep := string(byte(Separator))
	var b strings.Builder
	b.WriteString(d.DiskUUID)
	b.WriteString(sep)
	b.WriteString(strconv.Itoa(d.BindPort))
	b.WriteString(sep)
	b.WriteString(d.VolumeUUID)
	b.WriteString(sep)
	b.WriteString(sep)
	return []byte(b.String())
}

// DecodeDeclaration parses a Declaration datagram, validating the trailing
// double-separator terminator.
func DecodeDeclaration(buf []byte) (Declaration, error) {
	sep := byte(Separator)
	fields := strings.Split(string(buf), string(sep))
	// "<disk>SEP<port>SEP<vol>SEP SEP" splits into 5 elements: disk, port,
	// vol, "", "".
	if len(fields) != 5 || fields[3] != "" || fields[4] != "" {
		return Declaration{}, raiderr.Wrap(raiderr.ErrProtocolMalformed, "malformed declaration datagram")
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return Declaration{}, raiderr.Wrap(raiderr.ErrProtocolMalformed, "bad bind_port")
	}
	return Declaration{
		DiskUUID:   fields[0],
		BindPort:   port,
		VolumeUUID: fields[2],
	}, nil
}
