//go:build unix

package monitor

import "golang.org/x/sys/unix"

// termState snapshots a terminal's attributes so they can be restored
// after a TTY session ends.
type termState struct {
	termios unix.Termios
}

func getTermState(fd int) (*termState, error) {
	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, err
	}
	return &termState{termios: *t}, nil
}

func restoreTermState(fd int, saved *termState) error {
	t := saved.termios
	return unix.IoctlSetTermios(fd, ioctlSetTermios, &t)
}

// setRawMode disables canonical mode and echo, matching the "no canonical,
// no echo" raw-mode description: input is delivered byte-by-byte and not
// echoed back by the kernel line discipline.
func setRawMode(fd int) error {
	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return err
	}
	raw := *t
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, ioctlSetTermios, &raw)
}
