package server

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	snapshotServiceName      = "threatmap.v1.SnapshotService"
	grpcMethodGetSnapshot    = "/threatmap.v1.SnapshotService/GetSnapshot"
	grpcMethodListThreats    = "/threatmap.v1.SnapshotService/ListThreats"
	grpcMethodTriggerRefresh = "/threatmap.v1.SnapshotService/TriggerRefresh"
)

// SnapshotServiceServer is the gRPC view of the snapshot API. Messages are
// google.protobuf.Struct so no generated code is needed.
type SnapshotServiceServer interface {
	GetSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListThreats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TriggerRefresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type snapshotService struct {
	srv *Server
}

func registerSnapshotService(gs *grpc.Server, s *Server) {
	gs.RegisterService(&grpc.ServiceDesc{
		ServiceName: snapshotServiceName,
		HandlerType: (*SnapshotServiceServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetSnapshot", Handler: grpcHandleGetSnapshot},
			{MethodName: "ListThreats", Handler: grpcHandleListThreats},
			{MethodName: "TriggerRefresh", Handler: grpcHandleTriggerRefresh},
		},
		Metadata: "threatmap/v1/snapshot.proto",
	}, &snapshotService{srv: s})
}

func (g *snapshotService) GetSnapshot(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snap, ok := g.srv.pipeline.Current()
	if !ok {
		return nil, status.Error(codes.Unavailable, "no snapshot yet")
	}
	return toStruct(snap)
}

// ListThreats accepts optional string fields severity, kind and origin.
func (g *snapshotService) ListThreats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	q, err := parseThreatQuery(func(name string) string {
		return req.GetFields()[name].GetStringValue()
	})
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	snap, ok := g.srv.pipeline.Current()
	if !ok {
		return nil, status.Error(codes.Unavailable, "no snapshot yet")
	}
	return toStruct(newThreatList(snap, snap.Filter(q.match)))
}

func (g *snapshotService) TriggerRefresh(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sched := g.srv.scheduler
	if sched == nil || !sched.Running() {
		return nil, status.Error(codes.Unavailable, "scheduler not running")
	}
	if !sched.TriggerNow() {
		return nil, status.Error(codes.FailedPrecondition, "refresh already in progress")
	}
	return structpb.NewStruct(map[string]any{"status": "started"})
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "decode: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "struct: %v", err)
	}
	return out, nil
}

func grpcHandleGetSnapshot(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	base := func(ctx context.Context, req any) (any, error) {
		return srv.(*snapshotService).GetSnapshot(ctx, req.(*structpb.Struct))
	}
	if interceptor == nil {
		return base(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcMethodGetSnapshot}
	return interceptor(ctx, in, info, base)
}

func grpcHandleListThreats(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	base := func(ctx context.Context, req any) (any, error) {
		return srv.(*snapshotService).ListThreats(ctx, req.(*structpb.Struct))
	}
	if interceptor == nil {
		return base(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcMethodListThreats}
	return interceptor(ctx, in, info, base)
}

func grpcHandleTriggerRefresh(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	base := func(ctx context.Context, req any) (any, error) {
		return srv.(*snapshotService).TriggerRefresh(ctx, req.(*structpb.Struct))
	}
	if interceptor == nil {
		return base(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcMethodTriggerRefresh}
	return interceptor(ctx, in, info, base)
}
