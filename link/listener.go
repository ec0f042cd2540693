package link

// NotificationKind 区分面向宿主应用的提示类别。
type NotificationKind int

const (
	NotifyRegistered NotificationKind = iota
	NotifyRegisterRequired
	NotifyError
	NotifyNoMAC
	NotifyNoNetwork
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyRegistered:
		return "registered"
	case NotifyRegisterRequired:
		return "register_required"
	case NotifyError:
		return "error"
	case NotifyNoMAC:
		return "no_mac"
	case NotifyNoNetwork:
		return "no_network"
	default:
		return "unknown"
	}
}

type Notification struct {
	Kind    NotificationKind
	Message string
	// MAC 在 NotifyRegisterRequired 时携带，便于用户在云端绑定设备。
	MAC string
}

// Listener 接收链路事件。回调在引擎协程中同步执行，不应阻塞。
type Listener interface {
	OnConnected(host string)
	OnDisconnected()
	// OnLog 的 code：0 表示信息，负数表示本地错误，其它为对端错误码。
	OnLog(code int64, msg string)
	OnNotify(n Notification)
}

// NopListener 忽略所有事件。
type NopListener struct{}

func (NopListener) OnConnected(string)    {}
func (NopListener) OnDisconnected()       {}
func (NopListener) OnLog(int64, string)   {}
func (NopListener) OnNotify(Notification) {}
