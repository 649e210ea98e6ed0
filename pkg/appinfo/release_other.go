//go:build !unix && !windows

package appinfo

func kernelRelease() string { return "" }
