package input

import (
	"context"
	"fmt"

	"git.fiblab.net/general/common/v2/cache"
	"git.fiblab.net/general/common/v2/mongoutil"
	"git.fiblab.net/general/common/v2/protoutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/tsinghua-fib-lab/agentsociety-traffic-oss/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"google.golang.org/protobuf/proto"
)

// Input 输入数据
// 功能：存储仿真所需的所有输入数据
// 说明：地图与人员支持从文件、MongoDB或缓存加载，信控设施只支持YAML文件
type Input struct {
	Map         *mapv2.Map
	Persons     *personv2.Persons
	Controllers *Controllers // 信号灯与标志牌，未配置时为空集合
}

// Init 下载数据
// 功能：根据配置加载地图、人员与信控设施
// 参数：config-配置对象，cacheDir-缓存目录
// 返回：加载完成的输入数据指针
// 算法说明：
// 1. 地图：文件优先，否则从MongoDB（带缓存）下载
// 2. 人员：文件或文件列表优先，否则从MongoDB下载，下载时丢弃初始位置不在车道上的人员
// 3. 信控设施：从YAML文件读取
// 4. 检查人员ID不重复，初始位置非法的人员记录错误后丢弃
func Init(config config.Config, cacheDir string) (res *Input) {
	useCache := preCheckCache(cacheDir)
	if !useCache {
		cacheDir = ""
	}

	var client *mongo.Client
	if config.Input.URI != "" {
		client = mongoutil.NewClient(config.Input.URI)
		defer client.Disconnect(context.Background())
	}

	res = &Input{
		Persons:     &personv2.Persons{Persons: make([]*personv2.Person, 0)},
		Controllers: &Controllers{},
	}

	if config.Input.Map.File != "" {
		var m mapv2.Map
		if err := protoutil.UnmarshalFromFile(&m, config.Input.Map.File); err != nil {
			log.Panicf("failed to load map from file: %v", err)
		}
		res.Map = &m
	} else if len(config.Input.Map.Files) > 0 {
		log.Panicf("multiple map files are not supported")
	} else {
		res.Map = mustLoad[mapv2.Map](client, config.Input.Map, cacheDir, nil, nil)
	}

	ids := newMapIDs(res.Map)

	if config.Input.Person != nil {
		if config.Input.Person.File != "" {
			var p personv2.Persons
			if err := protoutil.UnmarshalFromFile(&p, config.Input.Person.File); err != nil {
				log.Panicf("failed to load person from file: %v", err)
			}
			res.Persons = &p
		} else if len(config.Input.Person.Files) > 0 {
			for _, file := range config.Input.Person.Files {
				var p personv2.Persons
				if err := protoutil.UnmarshalFromFile(&p, file); err != nil {
					log.Panicf("failed to load person from file: %v", err)
				}
				res.Persons.Persons = append(res.Persons.Persons, p.Persons...)
			}
		} else {
			res.Persons = mustLoad[personv2.Persons](client, *config.Input.Person, cacheDir, nil, func(className string, pb any, rawBson bson.Raw) error {
				person := pb.(*personv2.Person)
				if !checkHomeValid(person.Home, ids) {
					return fmt.Errorf("ignore person %v due to bad home position %v", person.Id, person.Home)
				}
				return nil
			})
		}
		if len(res.Persons.Persons) == 0 {
			log.Error("no valid persons to simulate")
		}
	}
	res.Persons.Persons = filterPersons(res.Persons.Persons, ids)

	if config.Input.Controllers != nil {
		if config.Input.Controllers.File == "" {
			log.Panicf("controllers only support file input")
		}
		c, err := LoadControllers(config.Input.Controllers.File)
		if err != nil {
			log.Panicf("failed to load controllers: %v", err)
		}
		res.Controllers = c
	}
	log.Infof("loaded %d lanes, %d junctions, %d persons, %d lights, %d signs",
		len(res.Map.Lanes), len(res.Map.Junctions), len(res.Persons.Persons),
		len(res.Controllers.Lights), len(res.Controllers.Signs),
	)
	return
}

// filterPersons 丢弃初始位置非法的人员，ID重复时panic
func filterPersons(persons []*personv2.Person, ids mapIDs) []*personv2.Person {
	personIDs := make(map[int32]struct{}, len(persons))
	valid := persons[:0]
	for _, p := range persons {
		if _, ok := personIDs[p.Id]; ok {
			log.Panicf("persons have duplicated ids %d, please check data", p.Id)
		}
		personIDs[p.Id] = struct{}{}
		if !checkHomeValid(p.Home, ids) {
			log.Errorf("ignore person %v due to bad home position %v", p.Id, p.Home)
			continue
		}
		valid = append(valid, p)
	}
	return valid
}

// mustLoad 必须加载数据（泛型函数）
// 功能：从MongoDB或缓存中加载数据
// 参数：client-MongoDB客户端，inputPath-输入路径配置，cacheDir-缓存目录，classNameMapper-类名映射器，handler-数据处理函数，opts-查询选项
// 返回：加载的数据对象，失败时panic
func mustLoad[T any, PT interface {
	proto.Message
	*T
}](
	client *mongo.Client,
	inputPath config.InputPath,
	cacheDir string,
	classNameMapper func(string) string,
	handler func(className string, pb any, rawBson bson.Raw) error,
	opts ...*options.FindOptions,
) (res PT) {
	coll := mongoutil.GetMongoColl(client, inputPath)
	var downloadFunc func() PT
	var err error
	if !inputPath.OnlyCache {
		downloadFunc = func() PT {
			pb, errs := mongoutil.DownloadPbFromMongo[T, PT](context.Background(), coll, classNameMapper, handler, opts...)
			if len(errs) > 0 {
				for _, err := range errs {
					log.Errorf("failed to download: %v", err)
				}
				log.Panicln("failed to download")
			}
			return pb
		}
	}
	log.Infof("start fetching from %s.%s", inputPath.DB, inputPath.Col)
	res, err = cache.LoadWithCache(cacheDir, inputPath, downloadFunc)
	if err != nil {
		log.Panicf("failed to load with cache: %v", err)
	}
	log.Infof("finish fetching from %s.%s", inputPath.DB, inputPath.Col)
	return
}
