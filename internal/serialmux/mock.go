package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

// ErrPortClosed is returned by TestableSerialPort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory sensor link. Reads drain the queued
// sensor bytes and report io.EOF once they run out, unless BlockReads is set.
type TestableSerialPort struct {
	mu       sync.Mutex
	readCond *sync.Cond
	queued   bytes.Buffer
	written  bytes.Buffer

	// ReadError is returned once by the next Read.
	ReadError error
	// CloseError is returned by Close.
	CloseError error
	// BlockReads makes Read wait for data or Close instead of reporting EOF.
	BlockReads bool

	Closed    bool
	ReadCalls int
}

func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ReadCalls++
	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}
	for p.BlockReads && !p.Closed && p.queued.Len() == 0 {
		p.readCond.Wait()
	}
	if p.Closed {
		return 0, ErrPortClosed
	}
	return p.queued.Read(b)
}

// Write records b; the sensor link is read-only in practice.
func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return 0, ErrPortClosed
	}
	return p.written.Write(b)
}

func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.readCond.Broadcast()
	return p.CloseError
}

// AddReadData queues sensor bytes for subsequent reads.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued.Write(data)
	p.readCond.Broadcast()
}

// Buffered returns the number of queued bytes not yet read.
func (p *TestableSerialPort) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued.Len()
}

// Written returns a copy of everything written to the port.
func (p *TestableSerialPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.written.Bytes())
}

// MockOpenCall records one MockSerialPortFactory.Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

// MockSerialPortFactory hands out a fixed port, or fails with Error.
type MockSerialPortFactory struct {
	mu        sync.Mutex
	Port      SerialPorter
	Error     error
	OpenCalls []MockOpenCall
}

func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}
