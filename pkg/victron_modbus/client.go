package victron_modbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

var (
	ErrConnectionFailure = errors.New("victron_modbus: connection failure")
	ErrReadFailure       = errors.New("victron_modbus: read failure")
	ErrDecodeFailure     = errors.New("victron_modbus: decode failure")
)

// ConnectionHandle identifies a short-lived session to one unit id behind the gateway.
type ConnectionHandle struct {
	Host    string
	Port    uint
	UnitId  uint8
	Timeout time.Duration
}

func (h ConnectionHandle) URL() string {
	return fmt.Sprintf("tcp://%s:%d", h.Host, h.Port)
}

func (h ConnectionHandle) String() string {
	return fmt.Sprintf("%s#%d", h.URL(), h.UnitId)
}

// UnitConnection is an open session to a single unit id.
// It must not be shared across unit ids and must be closed by its opener.
type UnitConnection interface {
	UnitId() uint8
	ReadHoldingRegisterBytes(addr uint16) ([]byte, error)
	Close() error
}

// Connector opens unit connections against the gateway.
type Connector interface {
	Connect(unitId uint8) (UnitConnection, error)
}

type ModbusClient struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

func (reader ModbusClient) readRawBytes(addr uint16, quantity uint16, regType modbus.RegType) ([]byte, error) {
	defer RecordTimer("ReadRawBytes", reader.instrument)()
	return reader.client.ReadRawBytes(addr, quantity, regType)
}

func (reader ModbusClient) open() error {
	defer RecordTimer("Open", reader.instrument)()
	return reader.client.Open()
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

// TCPConnector opens one Modbus TCP session per Connect call.
// Sessions are never pooled: the gateway is a single serial bridge.
type TCPConnector struct {
	host       string
	port       uint
	timeout    time.Duration
	instrument []ModbusInstrument
}

type tcpUnitConnection struct {
	ModbusClient
	handle ConnectionHandle
}

func (c *TCPConnector) Connect(unitId uint8) (UnitConnection, error) {
	handle := ConnectionHandle{
		Host:    c.host,
		Port:    c.port,
		UnitId:  unitId,
		Timeout: c.timeout,
	}
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     handle.URL(),
		Timeout: handle.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailure, handle, err)
	}
	if err = client.SetUnitId(unitId); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailure, handle, err)
	}

	conn := &tcpUnitConnection{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: c.instrument,
		},
		handle: handle,
	}
	if err = conn.open(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailure, handle, err)
	}
	return conn, nil
}

func (conn *tcpUnitConnection) UnitId() uint8 {
	return conn.handle.UnitId
}

// ReadHoldingRegisterBytes reads a single 16-bit holding register as its two wire bytes.
func (conn *tcpUnitConnection) ReadHoldingRegisterBytes(addr uint16) ([]byte, error) {
	return conn.readRawBytes(addr, 2, modbus.HOLDING_REGISTER)
}

func (conn *tcpUnitConnection) Close() error {
	return conn.client.Close()
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus call", zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}

func CreateTCPConnector(host string, port uint, timeout time.Duration, logger *zap.Logger,
	instrumentation *ModbusInstrument) (*TCPConnector, error) {
	if host == "" {
		return nil, errors.New("victron_modbus: gateway host required")
	}
	if port == 0 || port > 65535 {
		return nil, fmt.Errorf("victron_modbus: invalid gateway port %d", port)
	}
	if timeout <= 0 {
		return nil, errors.New("victron_modbus: timeout must be > 0")
	}

	// instrumentation
	var inst []ModbusInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "gateway")))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	return &TCPConnector{
		host:       host,
		port:       port,
		timeout:    timeout,
		instrument: inst,
	}, nil
}
