package vehicle

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"git.fiblab.net/general/common/v2/parallel"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils"

	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"git.fiblab.net/sim/protos/v2/go/city/person/v2/personv2connect"
)

// Register 将车辆管理器注册到Sidecar，提供PersonService的查询接口
func (m *Manager) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(
		personv2connect.PersonServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			return personv2connect.NewPersonServiceHandler(m, opts...)
		},
	)
}

// personv2connect.PersonService

// GetPerson 获取车辆信息
func (m *Manager) GetPerson(ctx context.Context, in *connect.Request[personv2.GetPersonRequest]) (*connect.Response[personv2.GetPersonResponse], error) {
	req := in.Msg
	v, ok := m.data[req.PersonId]
	if !ok {
		_, err := m.GetOrError(req.PersonId)
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	res := &personv2.GetPersonResponse{
		Person: v.ToPersonRuntimePb(true),
	}
	return connect.NewResponse(res), nil
}

// GetPersons 获取多个车辆信息，支持ID筛选和状态排除
// 说明：不指定ID时返回在途车辆，指定的ID不存在时返回错误
func (m *Manager) GetPersons(ctx context.Context, in *connect.Request[personv2.GetPersonsRequest]) (*connect.Response[personv2.GetPersonsResponse], error) {
	req := in.Msg
	vehicles, failed := utils.Find(m.data, m.vehicles.Data(), req.PersonIds)
	if len(failed) > 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("no id %v in vehicle data", failed))
	}
	excludeStatusMap := map[personv2.Status]struct{}{}
	for _, status := range req.ExcludeStatuses {
		excludeStatusMap[status] = struct{}{}
	}
	res := &personv2.GetPersonsResponse{
		Persons: parallel.GoMapFilter(vehicles, func(v *Vehicle) (*personv2.PersonRuntime, bool) {
			if _, ok := excludeStatusMap[v.Status()]; ok {
				return nil, false
			}
			return v.ToPersonRuntimePb(req.ReturnBase), true
		}),
	}
	return connect.NewResponse(res), nil
}

// GetGlobalStatistics 获取全局统计信息
func (m *Manager) GetGlobalStatistics(ctx context.Context, in *connect.Request[personv2.GetGlobalStatisticsRequest]) (*connect.Response[personv2.GetGlobalStatisticsResponse], error) {
	res := &personv2.GetGlobalStatisticsResponse{
		NumCompletedTrips:          m.snapshot.NumCompletedTrips,
		RunningTotalTravelTime:     m.snapshot.TravelTime,
		RunningTotalTravelDistance: m.snapshot.TravelDistance,
	}
	return connect.NewResponse(res), nil
}
