package uinputdev

// Linux ioctl request-number construction, per <asm-generic/ioctl.h>. The
// uinput ioctls aren't exported by golang.org/x/sys/unix, so this package
// derives them the same way the kernel headers do rather than hardcoding
// magic numbers.
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func io(typ, nr uintptr) uintptr { return ioc(0, typ, nr, 0) }

func iow(typ, nr, size uintptr) uintptr { return ioc(iocWrite, typ, nr, size) }

// uinputIoctlBase is 'U'.
const uinputIoctlBase = 0x55
