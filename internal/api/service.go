// Package api exposes the daemon's control surface as the gRPC service
// courier.v1.Control. Requests and responses are google.protobuf.Struct
// messages, so the service needs no generated code.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "courier.v1.Control"

// Method names of courier.v1.Control.
const (
	MethodGetStatus    = "GetStatus"
	MethodSendText     = "SendText"
	MethodFlush        = "Flush"
	MethodListMessages = "ListMessages"
	MethodListQueued   = "ListQueued"
	MethodRetry        = "Retry"
	MethodSetAppState  = "SetAppState"
	MethodSetTyping    = "SetTyping"
	MethodOpenChat     = "OpenChat"
	MethodCreateGroup  = "CreateGroup"
	MethodDeleteChat   = "DeleteChat"
	MethodLeaveChat    = "LeaveChat"
	MethodRemoveMember = "RemoveMember"
	MethodListChats    = "ListChats"
	MethodSearch       = "Search"
	MethodGetUser      = "GetUser"
	MethodPutUser      = "PutUser"
	MethodReact        = "React"
)

// ControlServer is the server API for courier.v1.Control.
type ControlServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Flush(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListQueued(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Retry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetAppState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetTyping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LeaveChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveMember(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PutUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	React(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes courier.v1.Control for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		method(MethodGetStatus, ControlServer.GetStatus),
		method(MethodSendText, ControlServer.SendText),
		method(MethodFlush, ControlServer.Flush),
		method(MethodListMessages, ControlServer.ListMessages),
		method(MethodListQueued, ControlServer.ListQueued),
		method(MethodRetry, ControlServer.Retry),
		method(MethodSetAppState, ControlServer.SetAppState),
		method(MethodSetTyping, ControlServer.SetTyping),
		method(MethodOpenChat, ControlServer.OpenChat),
		method(MethodCreateGroup, ControlServer.CreateGroup),
		method(MethodDeleteChat, ControlServer.DeleteChat),
		method(MethodLeaveChat, ControlServer.LeaveChat),
		method(MethodRemoveMember, ControlServer.RemoveMember),
		method(MethodListChats, ControlServer.ListChats),
		method(MethodSearch, ControlServer.Search),
		method(MethodGetUser, ControlServer.GetUser),
		method(MethodPutUser, ControlServer.PutUser),
		method(MethodReact, ControlServer.React),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "courier/v1/control.proto",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
