//go:build linux

package link

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

type serialPort struct {
	fd        int
	device    string
	closeOnce sync.Once
	closeErr  error
}

// OpenSerial opens device raw 8N1 at baud and takes exclusive ownership of it
// (TIOCEXCL plus a non-blocking flock). Reads time out after 100ms.
func OpenSerial(device string, baud int) (Port, error) {
	rate, ok := baudRates[baud]
	if !ok {
		return nil, &OpenError{Device: device, Kind: ErrDeviceMissing, Err: fmt.Errorf("unsupported baud rate %d", baud)}
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, classifyOpenError(device, err)
	}
	opened := false
	defer func() {
		if !opened {
			unix.Close(fd)
		}
	}()

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return nil, classifyOpenError(device, err)
	}
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		return nil, classifyOpenError(device, err)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, &OpenError{Device: device, Kind: ErrDeviceMissing, Err: fmt.Errorf("not a tty: %w", err)}
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | rate
	t.Ispeed = rate
	t.Ospeed = rate
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1 // deciseconds
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return nil, &OpenError{Device: device, Kind: ErrDeviceMissing, Err: fmt.Errorf("configure termios: %w", err)}
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		return nil, &OpenError{Device: device, Kind: ErrDeviceMissing, Err: err}
	}
	// discard whatever accumulated before we owned the port
	_ = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)

	opened = true
	return &serialPort{fd: fd, device: device}, nil
}

func classifyOpenError(device string, err error) error {
	switch {
	case errors.Is(err, unix.EBUSY), errors.Is(err, unix.EWOULDBLOCK):
		return &OpenError{Device: device, Kind: ErrDeviceBusy, Err: err}
	default:
		return &OpenError{Device: device, Kind: ErrDeviceMissing, Err: err}
	}
}

func (p *serialPort) Read(b []byte) (int, error) {
	n, err := unix.Read(p.fd, b)
	if err != nil {
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", p.device, err)
	}
	return n, nil
}

func (p *serialPort) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := unix.Write(p.fd, b[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return written, fmt.Errorf("write %s: %w", p.device, err)
		}
		written += n
	}
	return written, nil
}

func (p *serialPort) Close() error {
	p.closeOnce.Do(func() {
		_ = unix.Flock(p.fd, unix.LOCK_UN)
		p.closeErr = unix.Close(p.fd)
	})
	return p.closeErr
}
