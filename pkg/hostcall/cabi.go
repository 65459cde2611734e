package hostcall

/*
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"unsafe"
)

// called by the host to get the version of the library
//
//export VehicleExtensionVersion
func VehicleExtensionVersion(output *C.char, outputsize C.size_t) {
	reply(Version(), output, outputsize)
}

// called by the host with a single command string
//
//export VehicleExtension
func VehicleExtension(output *C.char, outputsize C.size_t, input *C.char) {
	reply(Call(C.GoString(input), nil), output, outputsize)
}

// called by the host with a command and an argument array
//
//export VehicleExtensionArgs
func VehicleExtensionArgs(output *C.char, outputsize C.size_t, input *C.char, argv **C.char, argc C.int) {
	reply(Call(C.GoString(input), parseArgsFromC(argv, argc)), output, outputsize)
}

// parseArgsFromC converts C argv array to Go string slice
func parseArgsFromC(argv **C.char, argc C.int) []string {
	if argc <= 0 || argv == nil {
		return nil
	}
	ptrs := unsafe.Slice(argv, int(argc))
	data := make([]string, 0, len(ptrs))
	for _, p := range ptrs {
		data = append(data, C.GoString(p))
	}
	return data
}

// reply copies response into the host's output buffer, truncating to outputsize.
func reply(response string, output *C.char, outputsize C.size_t) {
	if output == nil || outputsize == 0 {
		return
	}
	result := C.CString(response)
	defer C.free(unsafe.Pointer(result))

	size := C.strlen(result) + 1
	if size > outputsize {
		size = outputsize
	}
	C.memmove(unsafe.Pointer(output), unsafe.Pointer(result), size)
	// keep the reply terminated when it was cut short
	*(*C.char)(unsafe.Add(unsafe.Pointer(output), outputsize-1)) = 0
}
