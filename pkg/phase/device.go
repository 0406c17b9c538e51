package phase

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the front-end UART rate needed for 10 kHz sample lines.
	DefaultBaudRate = 921600
	// DefaultADCMax is the full-scale count of a 12-bit converter.
	DefaultADCMax = 4095
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a phase current front-end MCU streaming "a,b" count lines.
//
// The reader goroutine publishes each parsed sample into a single atomic slot
// tagged with a sequence number. Read hands every sample out at most once, so
// a cycle that runs faster than the stream sees ErrSampleUnavailable rather
// than a repeated value.
type Serial struct {
	port     string
	baudRate int
	adcMax   uint16

	conn      io.ReadWriteCloser
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	done      chan struct{}

	latest  atomic.Uint64 // seq<<32 | a<<16 | b
	seen    atomic.Uint32
	dropped atomic.Uint64
}

// New creates a new Serial front-end for the given port, baud rate and ADC
// full-scale count.
func New(port string, baudRate int, adcMax uint16) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if adcMax == 0 {
		adcMax = DefaultADCMax
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		adcMax:   adcMax,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Connect opens the serial port and starts reading samples.
func (d *Serial) Connect() error {
	mode := &serial.Mode{
		BaudRate: d.baudRate,
	}

	port, err := serial.Open(d.port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	if err := d.attach(port); err != nil {
		port.Close()
		return err
	}
	return nil
}

// attach starts reading from an already open stream.
func (d *Serial) attach(conn io.ReadWriteCloser) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	d.conn = conn
	d.connected = true
	d.done = make(chan struct{})

	go d.readSamples(conn, d.done)

	return nil
}

// Close closes the connection and waits for the reader to stop.
func (d *Serial) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}

	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
		d.conn = nil
	}

	d.connected = false
	done := d.done
	d.mu.Unlock()

	<-done
	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Dropped returns how many malformed lines have been discarded.
func (d *Serial) Dropped() uint64 {
	return d.dropped.Load()
}

// Read returns the newest sample if it has not been read before.
func (d *Serial) Read() (RawSample, error) {
	v := d.latest.Load()
	seq := uint32(v >> 32)
	if seq == 0 || d.seen.Swap(seq) == seq {
		return RawSample{}, ErrSampleUnavailable
	}
	return RawSample{A: uint16(v >> 16), B: uint16(v)}, nil
}

// publish stores s as the newest sample.
func (d *Serial) publish(s RawSample) {
	seq := uint32(d.latest.Load()>>32) + 1
	if seq == 0 {
		seq = 1
	}
	d.latest.Store(uint64(seq)<<32 | uint64(s.A)<<16 | uint64(s.B))
}

// readSamples reads lines from the serial port and publishes them.
func (d *Serial) readSamples(conn io.Reader, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in readSamples: %v", r)
		}
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		sample, err := parseLine(line, d.adcMax)
		if err != nil {
			d.dropped.Add(1)
			continue
		}

		d.publish(sample)
	}

	if err := scanner.Err(); err != nil && d.ctx.Err() == nil {
		log.Printf("Error reading from serial port: %v", err)
	}
}

// parseLine parses a line from the front-end MCU into a RawSample.
// Format: a,b
// Example: 2051,2040
func parseLine(line string, adcMax uint16) (RawSample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return RawSample{}, fmt.Errorf("invalid line format: expected 2 comma-separated values, got %d", len(parts))
	}

	a, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 16)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid phase A count: %w", err)
	}
	if a > uint64(adcMax) {
		return RawSample{}, fmt.Errorf("phase A count out of range: %d (max %d)", a, adcMax)
	}

	b, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 16)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid phase B count: %w", err)
	}
	if b > uint64(adcMax) {
		return RawSample{}, fmt.Errorf("phase B count out of range: %d (max %d)", b, adcMax)
	}

	return RawSample{A: uint16(a), B: uint16(b)}, nil
}
