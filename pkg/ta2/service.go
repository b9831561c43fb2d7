package ta2

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "Core"

// Full method names of the Core service.
const (
	MethodHello                     = "/" + serviceName + "/Hello"
	MethodSearchSolutions           = "/" + serviceName + "/SearchSolutions"
	MethodGetSearchSolutionsResults = "/" + serviceName + "/GetSearchSolutionsResults"
	MethodEndSearchSolutions        = "/" + serviceName + "/EndSearchSolutions"
	MethodScoreSolution             = "/" + serviceName + "/ScoreSolution"
	MethodGetScoreSolutionResults   = "/" + serviceName + "/GetScoreSolutionResults"
	MethodDescribeSolution          = "/" + serviceName + "/DescribeSolution"
)

type (
	SearchResultsStream = grpc.ServerStreamingServer[GetSearchSolutionsResultsResponse]
	ScoreResultsStream  = grpc.ServerStreamingServer[GetScoreSolutionResultsResponse]
)

// CoreServer is the remote side of the protocol. The relay only consumes it;
// the in-memory implementation in ta2mock exists for tests and local runs.
type CoreServer interface {
	Hello(context.Context, *HelloRequest) (*HelloResponse, error)
	SearchSolutions(context.Context, *SearchSolutionsRequest) (*SearchSolutionsResponse, error)
	GetSearchSolutionsResults(*GetSearchSolutionsResultsRequest, SearchResultsStream) error
	EndSearchSolutions(context.Context, *EndSearchSolutionsRequest) (*EndSearchSolutionsResponse, error)
	ScoreSolution(context.Context, *ScoreSolutionRequest) (*ScoreSolutionResponse, error)
	GetScoreSolutionResults(*GetScoreSolutionResultsRequest, ScoreResultsStream) error
	DescribeSolution(context.Context, *DescribeSolutionRequest) (*DescribeSolutionResponse, error)
}

// RegisterCoreServer exposes srv on s.
func RegisterCoreServer(s grpc.ServiceRegistrar, srv CoreServer) {
	s.RegisterService(&coreServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](fullMethod string, call func(CoreServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CoreServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(CoreServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamHandler[Req any, Resp any](call func(CoreServer, *Req, grpc.ServerStreamingServer[Resp]) error) grpc.StreamHandler {
	return func(srv interface{}, stream grpc.ServerStream) error {
		in := new(Req)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return call(srv.(CoreServer), in, &grpc.GenericServerStream[Req, Resp]{ServerStream: stream})
	}
}

var searchResultsStreamDesc = grpc.StreamDesc{
	StreamName:    "GetSearchSolutionsResults",
	ServerStreams: true,
	Handler: streamHandler(func(s CoreServer, in *GetSearchSolutionsResultsRequest, out grpc.ServerStreamingServer[GetSearchSolutionsResultsResponse]) error {
		return s.GetSearchSolutionsResults(in, out)
	}),
}

var scoreResultsStreamDesc = grpc.StreamDesc{
	StreamName:    "GetScoreSolutionResults",
	ServerStreams: true,
	Handler: streamHandler(func(s CoreServer, in *GetScoreSolutionResultsRequest, out grpc.ServerStreamingServer[GetScoreSolutionResultsResponse]) error {
		return s.GetScoreSolutionResults(in, out)
	}),
}

var coreServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Hello",
			Handler: unaryHandler(MethodHello, func(s CoreServer, ctx context.Context, in *HelloRequest) (*HelloResponse, error) {
				return s.Hello(ctx, in)
			}),
		},
		{
			MethodName: "SearchSolutions",
			Handler: unaryHandler(MethodSearchSolutions, func(s CoreServer, ctx context.Context, in *SearchSolutionsRequest) (*SearchSolutionsResponse, error) {
				return s.SearchSolutions(ctx, in)
			}),
		},
		{
			MethodName: "EndSearchSolutions",
			Handler: unaryHandler(MethodEndSearchSolutions, func(s CoreServer, ctx context.Context, in *EndSearchSolutionsRequest) (*EndSearchSolutionsResponse, error) {
				return s.EndSearchSolutions(ctx, in)
			}),
		},
		{
			MethodName: "ScoreSolution",
			Handler: unaryHandler(MethodScoreSolution, func(s CoreServer, ctx context.Context, in *ScoreSolutionRequest) (*ScoreSolutionResponse, error) {
				return s.ScoreSolution(ctx, in)
			}),
		},
		{
			MethodName: "DescribeSolution",
			Handler: unaryHandler(MethodDescribeSolution, func(s CoreServer, ctx context.Context, in *DescribeSolutionRequest) (*DescribeSolutionResponse, error) {
				return s.DescribeSolution(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{searchResultsStreamDesc, scoreResultsStreamDesc},
	Metadata: "core.proto",
}
