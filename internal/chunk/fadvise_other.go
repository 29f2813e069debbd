//go:build !linux

package chunk

func adviseSequential(any) {}
