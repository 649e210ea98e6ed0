package commsutil

import "fmt"

// Default COMMS subjects.
const (
	SubjectInvoke       = "rabby.desktop.ipc.invoke"
	SubjectSend         = "rabby.desktop.ipc.send"
	SubjectManifest     = "rabby.desktop.ipc.manifest"
	SubjectDeviceSelect = "rabby.desktop.device.select"
	SubjectRabbyxRPC    = "rabby.desktop.rabbyx.rpc"
	SubjectEvents       = "rabby.desktop.events"
)

// BuildEventSubject builds a granular event subject under the given root,
// e.g. "rabby.desktop.events.dapps.changed".
func BuildEventSubject(root, topic string) string {
	return fmt.Sprintf("%s.%s", root, topic)
}

