package service

import (
	"context"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/groupledger/internal/groups"
)

const GroupServiceName = "groupledger.v1.GroupService"

const (
	CreateGroupProcedure  = "/" + GroupServiceName + "/CreateGroup"
	GetGroupProcedure     = "/" + GroupServiceName + "/GetGroup"
	UpdateGroupProcedure  = "/" + GroupServiceName + "/UpdateGroup"
	AddMemberProcedure    = "/" + GroupServiceName + "/AddMember"
	RemoveMemberProcedure = "/" + GroupServiceName + "/RemoveMember"
	SetArchivedProcedure  = "/" + GroupServiceName + "/SetArchived"
	DeleteGroupProcedure  = "/" + GroupServiceName + "/DeleteGroup"
	ListMembersProcedure  = "/" + GroupServiceName + "/ListMembers"
)

// GroupService exposes the group directory over Connect.
type GroupService struct {
	directory *groups.Directory
	logger    *slog.Logger
}

// NewGroupService creates a new GroupService backed by the directory.
func NewGroupService(d *groups.Directory, logger *slog.Logger) *GroupService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GroupService{directory: d, logger: logger}
}

// Handler returns the path prefix and handler to mount on a mux.
func (s *GroupService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSON()}, opts...)
	mux := http.NewServeMux()
	mux.Handle(CreateGroupProcedure, connect.NewUnaryHandler(CreateGroupProcedure, s.CreateGroup, opts...))
	mux.Handle(GetGroupProcedure, connect.NewUnaryHandler(GetGroupProcedure, s.GetGroup, opts...))
	mux.Handle(UpdateGroupProcedure, connect.NewUnaryHandler(UpdateGroupProcedure, s.UpdateGroup, opts...))
	mux.Handle(AddMemberProcedure, connect.NewUnaryHandler(AddMemberProcedure, s.AddMember, opts...))
	mux.Handle(RemoveMemberProcedure, connect.NewUnaryHandler(RemoveMemberProcedure, s.RemoveMember, opts...))
	mux.Handle(SetArchivedProcedure, connect.NewUnaryHandler(SetArchivedProcedure, s.SetArchived, opts...))
	mux.Handle(DeleteGroupProcedure, connect.NewUnaryHandler(DeleteGroupProcedure, s.DeleteGroup, opts...))
	mux.Handle(ListMembersProcedure, connect.NewUnaryHandler(ListMembersProcedure, s.ListMembers, opts...))
	return "/" + GroupServiceName + "/", mux
}

// CreateGroup creates a new group with the caller as its admin.
func (s *GroupService) CreateGroup(ctx context.Context, req *connect.Request[CreateGroupRequest]) (*connect.Response[GroupResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	g, err := s.directory.CreateGroup(ctx, memberID, req.Msg.Name, req.Msg.BaseCurrency)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GroupResponse{Group: groupToMsg(g)}), nil
}

// GetGroup retrieves a group by ID.
func (s *GroupService) GetGroup(ctx context.Context, req *connect.Request[GroupIDRequest]) (*connect.Response[GroupResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	g, err := s.directory.GetGroup(ctx, memberID, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GroupResponse{Group: groupToMsg(g)}), nil
}

// UpdateGroup renames a group or changes its base currency.
func (s *GroupService) UpdateGroup(ctx context.Context, req *connect.Request[UpdateGroupRequest]) (*connect.Response[GroupResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	g, err := s.directory.UpdateGroup(ctx, memberID, req.Msg.GroupID, req.Msg.Name, req.Msg.BaseCurrency)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GroupResponse{Group: groupToMsg(g)}), nil
}

func (s *GroupService) AddMember(ctx context.Context, req *connect.Request[AddMemberRequest]) (*connect.Response[MemberResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	m, err := s.directory.AddMember(ctx, memberID, req.Msg.GroupID, req.Msg.MemberID, req.Msg.Admin)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&MemberResponse{Member: memberToMsg(m)}), nil
}

func (s *GroupService) RemoveMember(ctx context.Context, req *connect.Request[RemoveMemberRequest]) (*connect.Response[Empty], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.directory.RemoveMember(ctx, memberID, req.Msg.GroupID, req.Msg.MemberID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *GroupService) SetArchived(ctx context.Context, req *connect.Request[SetArchivedRequest]) (*connect.Response[GroupResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	g, err := s.directory.SetArchived(ctx, memberID, req.Msg.GroupID, req.Msg.Archived)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GroupResponse{Group: groupToMsg(g)}), nil
}

// DeleteGroup soft-deletes a group, or removes it with everything in it when Hard is set.
func (s *GroupService) DeleteGroup(ctx context.Context, req *connect.Request[DeleteGroupRequest]) (*connect.Response[Empty], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.directory.DeleteGroup(ctx, memberID, req.Msg.GroupID, req.Msg.Hard); err != nil {
		return nil, toConnectError(err)
	}
	s.logger.Info("Group deleted", "group_id", req.Msg.GroupID, "hard", req.Msg.Hard)
	return connect.NewResponse(&Empty{}), nil
}

func (s *GroupService) ListMembers(ctx context.Context, req *connect.Request[ListMembersRequest]) (*connect.Response[ListMembersResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	members, err := s.directory.ListMembers(ctx, memberID, req.Msg.GroupID, req.Msg.IncludeLeft)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &ListMembersResponse{Members: make([]Member, 0, len(members))}
	for i := range members {
		resp.Members = append(resp.Members, memberToMsg(&members[i]))
	}
	return connect.NewResponse(resp), nil
}
