package workflow

import (
	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/service"
)

// Context 描述一次会话输入的来源。
type Context struct {
	SessionID string          // 会话标识，同一用户的流程串行执行
	UserID    string          // 发起人
	ChatID    string          // 输入所在的会话
	ChatKind  domain.ChatKind // 私聊或群聊
	Nickname  string          // 发起人在网关侧的昵称，仅在注册时参考

}

// Services 聚合流程需要的全部业务服务。
type Services struct {
	Users      *service.UserService
	Recipients *service.RecipientService
	Addresses  *service.AddressService
	Bindings   *service.BindingService
	Requests   *service.RequestService
}

// Machine 定义一个多步会话流程。Start 返回进入流程时的效果，
// Advance 消费一个输入事件并返回效果；done 为 true 表示流程结束。
// 取消和超时由引擎统一处理，流程内部不会看到这两类输入，
// 因此任何落库或投递动作只可能发生在最后一步确认之后。
type Machine interface {
	Start() (effects []Effect, done bool)
	Advance(ev Event) (effects []Effect, done bool)
}
