package solana

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/mr-tron/base58"
)

// AccountMeta describes how an instruction touches one account.
type AccountMeta struct {
	PubKey     PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is one program invocation inside a transaction.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// NewTokenTransferInstruction moves raw token units between token accounts.
// Layout: tag 3 (Transfer) followed by the amount as little-endian u64.
func NewTokenTransferInstruction(source, dest, owner PublicKey, amount uint64) Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], amount)
	return Instruction{
		ProgramID: TokenProgramID,
		Accounts: []AccountMeta{
			{PubKey: source, IsWritable: true},
			{PubKey: dest, IsWritable: true},
			{PubKey: owner, IsSigner: true},
		},
		Data: data,
	}
}

// NewCreateATAInstruction creates the associated token account for
// (owner, mint), funded by payer. Uses the idempotent variant (tag 1) so a
// concurrent creation never fails the batch.
func NewCreateATAInstruction(payer, ata, owner, mint PublicKey) Instruction {
	return Instruction{
		ProgramID: AssociatedTokenProgramID,
		Accounts: []AccountMeta{
			{PubKey: payer, IsSigner: true, IsWritable: true},
			{PubKey: ata, IsWritable: true},
			{PubKey: owner},
			{PubKey: mint},
			{PubKey: SystemProgramID},
			{PubKey: TokenProgramID},
		},
		Data: []byte{1},
	}
}

// BuildTransaction assembles, signs and base64-encodes a legacy transaction
// with a single fee payer.
func BuildTransaction(instructions []Instruction, recentBlockhash string, signer *Keypair) (string, error) {
	if len(instructions) == 0 {
		return "", fmt.Errorf("no instructions")
	}

	blockhashBytes, err := base58.Decode(recentBlockhash)
	if err != nil || len(blockhashBytes) != 32 {
		return "", fmt.Errorf("bad blockhash %q", recentBlockhash)
	}

	keys := collectAccounts(instructions, signer.Public)

	index := make(map[PublicKey]int, len(keys))
	for i, k := range keys {
		index[k.PubKey] = i
	}

	var msg bytes.Buffer

	// Header: required signatures, readonly signed, readonly unsigned.
	numSigners, numReadonlySigned, numReadonlyUnsigned := 0, 0, 0
	for _, k := range keys {
		if k.IsSigner {
			numSigners++
			if !k.IsWritable {
				numReadonlySigned++
			}
		} else if !k.IsWritable {
			numReadonlyUnsigned++
		}
	}
	msg.WriteByte(byte(numSigners))
	msg.WriteByte(byte(numReadonlySigned))
	msg.WriteByte(byte(numReadonlyUnsigned))

	writeCompactU16(&msg, len(keys))
	for _, k := range keys {
		msg.Write(k.PubKey.Bytes())
	}

	msg.Write(blockhashBytes)

	writeCompactU16(&msg, len(instructions))
	for _, ins := range instructions {
		progIdx, ok := index[ins.ProgramID]
		if !ok {
			return "", fmt.Errorf("program %s not in account table", ins.ProgramID)
		}
		msg.WriteByte(byte(progIdx))
		writeCompactU16(&msg, len(ins.Accounts))
		for _, a := range ins.Accounts {
			msg.WriteByte(byte(index[a.PubKey]))
		}
		writeCompactU16(&msg, len(ins.Data))
		msg.Write(ins.Data)
	}

	signature := signer.Sign(msg.Bytes())

	var tx bytes.Buffer
	writeCompactU16(&tx, 1)
	tx.Write(signature)
	tx.Write(msg.Bytes())

	return base64.StdEncoding.EncodeToString(tx.Bytes()), nil
}

// collectAccounts merges account metas across instructions and orders them
// as the message format requires: writable signers, readonly signers,
// writable non-signers, readonly non-signers. The fee payer always leads.
func collectAccounts(instructions []Instruction, payer PublicKey) []AccountMeta {
	merged := map[PublicKey]*AccountMeta{
		payer: {PubKey: payer, IsSigner: true, IsWritable: true},
	}
	var order []PublicKey
	order = append(order, payer)

	add := func(m AccountMeta) {
		if existing, ok := merged[m.PubKey]; ok {
			existing.IsSigner = existing.IsSigner || m.IsSigner
			existing.IsWritable = existing.IsWritable || m.IsWritable
			return
		}
		copy := m
		merged[m.PubKey] = &copy
		order = append(order, m.PubKey)
	}

	for _, ins := range instructions {
		for _, a := range ins.Accounts {
			add(a)
		}
		add(AccountMeta{PubKey: ins.ProgramID})
	}

	out := make([]AccountMeta, 0, len(order))
	for _, pk := range order {
		out = append(out, *merged[pk])
	}

	rank := func(m AccountMeta) int {
		switch {
		case m.PubKey == payer:
			return 0
		case m.IsSigner && m.IsWritable:
			return 1
		case m.IsSigner:
			return 2
		case m.IsWritable:
			return 3
		default:
			return 4
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

// writeCompactU16 emits the shortvec length prefix used by the wire format.
func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}
