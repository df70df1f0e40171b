package si446x

import (
	"errors"
	"fmt"
)

// ErrTableFormat indicates a malformed configuration table
var ErrTableFormat = errors.New("malformed configuration table")

// SplitTable walks a configuration table of length-prefixed commands
// terminated by a zero length byte and returns the commands in order.
// A table without the terminator ends at its last complete command.
func SplitTable(table []byte) ([][]byte, error) {
	var commands [][]byte
	pos := 0
	for pos < len(table) {
		n := int(table[pos])
		if n == 0 {
			return commands, nil
		}
		if n > MaxCommandLength {
			return nil, fmt.Errorf("%w: command of %d bytes at offset %d", ErrTableFormat, n, pos)
		}
		if pos+1+n > len(table) {
			return nil, fmt.Errorf("%w: command at offset %d runs past the end", ErrTableFormat, pos)
		}
		commands = append(commands, table[pos+1:pos+1+n])
		pos += 1 + n
	}
	return commands, nil
}

// AppendCommand appends one length-prefixed command to table
func AppendCommand(table []byte, cmd ...byte) []byte {
	table = append(table, byte(len(cmd)))
	return append(table, cmd...)
}

// AppendProperties appends SET_PROPERTY commands writing values starting at
// group/index, split into batches the command buffer can hold
func AppendProperties(table []byte, group, index byte, values ...byte) []byte {
	for len(values) > 0 {
		n := min(len(values), MaxPropertyBatch)
		cmd := append([]byte{CmdSetProperty, group, byte(n), index}, values[:n]...)
		table = AppendCommand(table, cmd...)
		values = values[n:]
		index += byte(n)
	}
	return table
}

// Terminate appends the end-of-table marker
func Terminate(table []byte) []byte {
	return append(table, 0x00)
}
