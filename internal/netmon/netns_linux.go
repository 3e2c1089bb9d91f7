//go:build linux

package netmon

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/vishvananda/netns"
)

func openNamespace(spec string) (netns.NsHandle, error) {
	var (
		h   netns.NsHandle
		err error
	)
	if strings.ContainsRune(spec, '/') {
		h, err = netns.GetFromPath(spec)
	} else {
		h, err = netns.GetFromName(spec)
	}
	if err != nil {
		return netns.None(), fmt.Errorf("open network namespace %q: %w", spec, err)
	}
	return h, nil
}

// inNamespace runs fn on a dedicated OS thread switched into the named
// network namespace. Sockets created by fn stay in that namespace.
func inNamespace(spec string, fn func() error) error {
	target, err := openNamespace(spec)
	if err != nil {
		return err
	}
	defer func() { _ = target.Close() }()

	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()

		orig, err := netns.Get()
		if err != nil {
			runtime.UnlockOSThread()
			done <- fmt.Errorf("get current network namespace: %w", err)
			return
		}
		defer func() { _ = orig.Close() }()

		if err := netns.Set(target); err != nil {
			runtime.UnlockOSThread()
			done <- fmt.Errorf("enter network namespace %q: %w", spec, err)
			return
		}

		fnErr := fn()

		// A thread that cannot switch back stays locked and dies with
		// this goroutine.
		if err := netns.Set(orig); err != nil {
			done <- fmt.Errorf("restore network namespace: %w", err)
			return
		}
		runtime.UnlockOSThread()
		done <- fnErr
	}()
	return <-done
}
