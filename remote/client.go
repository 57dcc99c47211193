// Package remote implements the transport capability the command layer is
// built against: raw register read/write primitives over a single owned
// connection. Two backend variants exist, a packet-oriented Modbus TCP link
// and a stream-oriented Modbus RTU serial link; both satisfy the same
// Backend contract and the command layer never learns which one is active.
package remote

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Client is the subset of Modbus operations the backends require from the
// transport collaborator. Framing, CRC and exception encoding live behind
// this interface.
type Client interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Backend is the capability contract for a register transport. A backend
// owns exactly one connection handle; it is created unopened, opened by
// Connect and released by Disconnect. Both lifecycle calls are idempotent.
type Backend interface {
	Connect() error
	Disconnect() error
	ReadInputRegisters(address, count uint16) ([]uint16, error)
	ReadHoldingRegisters(address, count uint16) ([]uint16, error)
	WriteRegisters(address uint16, words []uint16) error
	Describe() string
}

// clientHandler is the connection lifecycle surface shared by the goburrow
// TCP and RTU handlers.
type clientHandler interface {
	Connect() error
	Close() error
}

// backend serializes all raw exchanges on its link and translates transport
// failures into the package error taxonomy.
type backend struct {
	mu        sync.Mutex
	handler   clientHandler
	newClient func() Client
	client    Client
	desc      string
}

func (b *backend) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return nil
	}
	if err := b.handler.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w: %w", b.desc, ErrConnection, err)
	}
	b.client = b.newClient()
	return nil
}

func (b *backend) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	b.client = nil
	if err := b.handler.Close(); err != nil {
		return fmt.Errorf("disconnect %s: %w", b.desc, err)
	}
	return nil
}

func (b *backend) ReadInputRegisters(address, count uint16) ([]uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, fmt.Errorf("read input registers %d: %w", address, ErrNotConnected)
	}
	if err := checkSpan(address, count); err != nil {
		return nil, err
	}
	raw, err := b.client.ReadInputRegisters(address, count)
	if err != nil {
		return nil, translate(fmt.Sprintf("read input registers %d+%d", address, count), err)
	}
	return toWords(raw, count)
}

func (b *backend) ReadHoldingRegisters(address, count uint16) ([]uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, fmt.Errorf("read holding registers %d: %w", address, ErrNotConnected)
	}
	if err := checkSpan(address, count); err != nil {
		return nil, err
	}
	raw, err := b.client.ReadHoldingRegisters(address, count)
	if err != nil {
		return nil, translate(fmt.Sprintf("read holding registers %d+%d", address, count), err)
	}
	return toWords(raw, count)
}

func (b *backend) WriteRegisters(address uint16, words []uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkSpan(address, uint16(len(words))); err != nil {
		return err
	}
	if b.client == nil {
		return fmt.Errorf("write registers %d: %w", address, ErrNotConnected)
	}
	var err error
	if len(words) == 1 {
		_, err = b.client.WriteSingleRegister(address, words[0])
	} else {
		_, err = b.client.WriteMultipleRegisters(address, uint16(len(words)), fromWords(words))
	}
	if err != nil {
		return translate(fmt.Sprintf("write registers %d+%d", address, len(words)), err)
	}
	return nil
}

func (b *backend) Describe() string {
	return b.desc
}

// checkSpan rejects malformed register spans before any raw I/O happens.
func checkSpan(address, count uint16) error {
	if count == 0 {
		return fmt.Errorf("register span at %d is empty: %w", address, ErrValidation)
	}
	if int(address)+int(count)-1 > 0xFFFF {
		return fmt.Errorf("register span %d+%d exceeds address space: %w", address, count, ErrValidation)
	}
	return nil
}

func toWords(raw []byte, count uint16) ([]uint16, error) {
	if len(raw) != int(count)*2 {
		return nil, fmt.Errorf("expected %d payload bytes, got %d: %w", int(count)*2, len(raw), ErrValidation)
	}
	words := make([]uint16, count)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	return words, nil
}

func fromWords(words []uint16) []byte {
	raw := make([]byte, len(words)*2)
	for i, word := range words {
		binary.BigEndian.PutUint16(raw[i*2:], word)
	}
	return raw
}
