package serial

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sercom/internal/discovery"
)

func TestScanner_Scan(t *testing.T) {
	scanner := NewScannerWithLister(func() ([]string, error) {
		return []string{"/dev/ttyUSB1", "/dev/ttyACM0"}, nil
	}, zaptest.NewLogger(t))

	manager := discovery.NewScannerManager(zaptest.NewLogger(t))
	manager.RegisterScanner(scanner)

	ports, err := manager.ScanAll(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, "/dev/ttyACM0", ports[0].Address)
	assert.Equal(t, "/dev/ttyUSB1", ports[1].Address)
	assert.Equal(t, "serial", ports[0].Scanner)
}

func TestScanner_ListerFailure(t *testing.T) {
	scanner := NewScannerWithLister(func() ([]string, error) {
		return nil, errors.New("permission denied")
	}, zaptest.NewLogger(t))

	_, err := scanner.Scan(context.Background())
	assert.ErrorContains(t, err, "permission denied")

	manager := discovery.NewScannerManager(zaptest.NewLogger(t))
	manager.RegisterScanner(scanner)
	ports, err := manager.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ports)
}

func TestScanner_Cancelled(t *testing.T) {
	scanner := NewScannerWithLister(func() ([]string, error) {
		t.Fatal("lister must not run after cancellation")
		return nil, nil
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scanner.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
