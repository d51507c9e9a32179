package victron_modbus

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecodeInt16(t *testing.T) {
	assert := assert.New(t)

	v, err := DecodeInt16([]byte{0x00, 0x01})
	assert.Nil(err)
	assert.Equal(int16(1), v)

	v, err = DecodeInt16([]byte{0xFF, 0xFF})
	assert.Nil(err)
	assert.Equal(int16(-1), v)

	v, err = DecodeInt16([]byte{0x80, 0x00})
	assert.Nil(err)
	assert.Equal(int16(math.MinInt16), v)

	_, err = DecodeInt16([]byte{0x01})
	assert.True(errors.Is(err, ErrDecodeFailure))

	_, err = DecodeInt16([]byte{0x01, 0x02, 0x03})
	assert.True(errors.Is(err, ErrDecodeFailure))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	assert := assert.New(t)

	for _, raw := range []int16{math.MinInt16, -1234, -1, 0, 1, 1234, math.MaxInt16} {
		v, err := DecodeInt16(EncodeInt16(raw))
		assert.Nil(err)
		assert.Equal(raw, v)
	}
}

func TestScale(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(12.34, Scale(1234, 100))
	assert.Equal(-8.4, Scale(-84, 10))
	assert.Equal(455.0, Scale(455, 1))
	// divisor is applied literally
	assert.Equal(410.0, Scale(41, 0.1))
	assert.Equal(0.333, Scale(1, 3))

	v, err := Decode([]byte{0x04, 0xD2}, 100)
	assert.Nil(err)
	assert.Equal(12.34, v)
}

func TestStateTables(t *testing.T) {
	assert := assert.New(t)

	code, label := VEBusStateTable.Lookup(3)
	assert.Equal(3, code)
	assert.Equal("Bulk", label)

	code, label = VEBusStateTable.Lookup(99)
	assert.Equal(99, code)
	assert.Equal(VEBusStateUnknownLabel, label)

	code, label = GridLossAlarmTable.Lookup(2)
	assert.Equal(2, code)
	assert.Equal("Alert - Grid Lost", label)

	code, label = GridLossAlarmTable.Lookup(1)
	assert.Equal(GridLossUnknownCode, code)
	assert.Equal(GridLossUnknownLabel, label)

	_, label = BatteryLifeStateTable.Lookup(8)
	assert.Equal(BatteryLifeUnknownLabel, label)
	_, label = BatteryLifeStateTable.Lookup(11)
	assert.Equal("Battery Life disabled (low SoC)", label)

	assert.Equal([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, VEBusStateTable.Codes())

	table, ok := TableByName("grid_lost_alarm")
	assert.True(ok)
	assert.Equal(GridLossAlarmTable.Name(), table.Name())
	_, ok = TableByName("nope")
	assert.False(ok)
}

func TestRegisterReaderRetriesOnce(t *testing.T) {
	require := require.New(t)

	c := NewTestConnector()
	c.SetRegister(100, 820, -180)
	c.FailReads(100, 820, 1)

	conn, err := c.Connect(100)
	require.NoError(err)
	defer conn.Close()

	reader := NewRegisterReader(DefaultMaxAttempts, zap.NewNop())
	v, err := reader.Read(conn, 820)
	require.NoError(err)
	require.Equal(int16(-180), v)
	require.Equal(2, c.Reads())
}

func TestRegisterReaderGivesUpAfterTwoAttempts(t *testing.T) {
	require := require.New(t)

	c := NewTestConnector()
	c.SetRegister(100, 820, -180)
	c.FailReads(100, 820, 2)

	conn, err := c.Connect(100)
	require.NoError(err)
	defer conn.Close()

	reader := NewRegisterReader(DefaultMaxAttempts, zap.NewNop())
	_, err = reader.Read(conn, 820)
	require.Error(err)
	require.True(errors.Is(err, ErrReadFailure))
	require.Equal(2, c.Reads())
}

func TestRegisterReaderMalformedPayload(t *testing.T) {
	require := require.New(t)

	c := NewTestConnector()
	c.SetRegister(225, 259, 5321)

	conn, err := c.Connect(225)
	require.NoError(err)
	defer conn.Close()

	reader := NewRegisterReader(DefaultMaxAttempts, zap.NewNop())

	c.MalformReads(225, 259, 1)
	v, err := reader.Read(conn, 259)
	require.NoError(err)
	require.Equal(int16(5321), v)

	c.MalformReads(225, 259, 2)
	_, err = reader.Read(conn, 259)
	require.True(errors.Is(err, ErrDecodeFailure))
}

func TestTestConnectorTracksConnections(t *testing.T) {
	assert := assert.New(t)

	c := NewTestConnector()
	c.SetUnreachable(228, true)

	_, err := c.Connect(228)
	assert.True(errors.Is(err, ErrConnectionFailure))

	conn, err := c.Connect(225)
	assert.Nil(err)
	assert.Equal(1, c.OpenConnections())
	assert.Nil(conn.Close())
	assert.Nil(conn.Close())
	assert.Equal(0, c.OpenConnections())
	assert.Equal(1, c.MaxOpenConnections())
	assert.Equal([]uint8{225}, c.OpenedUnits())
}

func TestCreateTCPConnectorValidation(t *testing.T) {
	assert := assert.New(t)
	logger := zap.NewNop()

	_, err := CreateTCPConnector("", 502, time.Second, logger, nil)
	assert.Error(err)
	_, err = CreateTCPConnector("venus.local", 0, time.Second, logger, nil)
	assert.Error(err)
	_, err = CreateTCPConnector("venus.local", 502, 0, logger, nil)
	assert.Error(err)

	connector, err := CreateTCPConnector("venus.local", 502, 2*time.Second, logger, nil)
	assert.Nil(err)
	assert.NotNil(connector)
}

func TestTCPConnectorUnreachableGateway(t *testing.T) {
	assert := assert.New(t)

	var calls int
	inst := &ModbusInstrument{RecordTime: func(string, time.Duration) { calls++ }}
	connector, err := CreateTCPConnector("127.0.0.1", 1, 200*time.Millisecond, zap.NewNop(), inst)
	assert.Nil(err)

	_, err = connector.Connect(100)
	assert.True(errors.Is(err, ErrConnectionFailure))
	assert.Equal(1, calls)
}

func TestConnectionHandle(t *testing.T) {
	assert := assert.New(t)
	h := ConnectionHandle{Host: "venus.local", Port: 502, UnitId: 228, Timeout: 2 * time.Second}
	assert.Equal("tcp://venus.local:502", h.URL())
	assert.Equal("tcp://venus.local:502#228", h.String())
}
