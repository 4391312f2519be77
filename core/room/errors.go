package room

import "errors"

// 同步引擎的命令级错误。命令在任何状态变更前校验并快速失败，
// 不存在部分生效的情况。
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrNoTrackLoaded = errors.New("no track loaded")
)
