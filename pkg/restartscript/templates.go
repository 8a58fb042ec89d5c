package restartscript

const header = `#!/bin/bash

set -m # turn on job control

#This script launches all the restarts in the background.
#Suggestions for editing:
#  1. For those processes executing on the localhost, remove
#     'ssh <hostname> from the start of the line. 
#  2. If using ssh, verify that ssh does not require passwords or other
#     prompts.
#  3. Verify that the dmtcp_restart command is in your path on all hosts,
#     otherwise set the remote_prefix appropriately.
#  4. Verify DMTCP_HOST and DMTCP_PORT match the location of the
#     dmtcp_coordinator. If necessary, add
#     'DMTCP_PORT=<dmtcp_coordinator port>' after 'DMTCP_HOST=<...>'.
#  5. Remove the '&' from a line if that process reads STDIN.
#     If multiple processes read STDIN then prefix the line with
#     'xterm -hold -e' and put '&' at the end of the line.
#  6. Processes on same host can be restarted with single dmtcp_restart
#     command.


`

const checkLocal = `check_local()
{
  worker_host=$1
  unset is_local_node
  worker_ip=$(nslookup $worker_host | grep -A1 'Name:' | grep 'Address:' | sed -e 's/Address://' -e 's/ //' -e 's/	//')
  ifconfig_path=` + "`which ifconfig`" + `
  if [ -z "$ifconfig_path" ]; then
    ifconfig_path="/sbin/ifconfig"
  fi
  output=` + "`$ifconfig_path -a | grep \"inet addr:.*${worker_ip}.*Bcast\"`" + `
  if [ -n "$output" ]; then
    is_local_node=1
  else
    is_local_node=0
  fi
}


`

const usage = `usage_str='USAGE:
  dmtcp_restart_script.sh [OPTIONS]

OPTIONS:
  --host, -h, (environment variable DMTCP_HOST):
      Hostname where dmtcp_coordinator is running
  --port, -p, (environment variable DMTCP_PORT):
      Port where dmtcp_coordinator is running
  --hostfile <arg0> :
      Provide a hostfile (One host per line, "#" indicates comments)
  --restartdir, -d, (environment variable DMTCP_RESTART_DIR):
      Directory to read checkpoint images from
  --batch, -b:
      Enable batch mode for dmtcp_restart
  --disable-batch, -b:
      Disable batch mode for dmtcp_restart (if previously enabled)
  --interval, -i, (environment variable DMTCP_CHECKPOINT_INTERVAL):
      Time in seconds between automatic checkpoints
      (Default: Use pre-checkpoint value)
  --help:
      Print this message and exit.'


`

const cmdlineArgHandler = `if [ $# -gt 0 ]; then
  while [ $# -gt 0 ]
  do
    if [ $1 = "--help" ]; then
      echo "$usage_str"
      exit
    elif [ $1 = "--batch" -o $1 = "-b" ]; then
      maybebatch='--batch'
      shift
    elif [ $1 = "--disable-batch" ]; then
      maybebatch=
      shift
    elif [ $# -ge 2 ]; then
      case "$1" in
        --host|-h)
          coord_host="$2";;
        --port|-p)
          coord_port="$2";;
        --hostfile)
          hostfile="$2"
          if [ ! -f "$hostfile" ]; then
            echo "ERROR: hostfile $hostfile not found"
            exit
          fi;;
        --restartdir|-d)
          DMTCP_RESTART_DIR=$2;;
        --interval|-i)
          checkpoint_interval=$2;;
        *)
          echo "$0: unrecognized option '$1'. See correct usage below"
          echo "$usage_str"
          exit;;
      esac
      shift
      shift
    elif [ $1 = "--help" ]; then
      echo "$usage_str"
      exit
    else
      echo "$0: Incorrect usage.  See correct usage below"
      echo
      echo "$usage_str"
      exit
    fi
  done
fi

`

const singleHostProcessing = `ckpt_files=""
if [ ! -z "$DMTCP_RESTART_DIR" ]; then
  for tmp in $given_ckpt_files; do
    ckpt_files="$DMTCP_RESTART_DIR/$(basename $tmp) $ckpt_files"
  done
else
  ckpt_files=$given_ckpt_files
fi

coordinator_info=
if [ -z "$maybebatch" ]; then
  coordinator_info="--host $coord_host --port $coord_port"
fi

exec $dmt_rstr_cmd $coordinator_info\
  $maybebatch $maybejoin --interval "$checkpoint_interval"\
  $ckpt_files
`

const multiHostProcessing = `worker_ckpts_regexp=\
'[^:]*::[ \t\n]*\([^ \t\n]\+\)[ \t\n]*:\([a-z]\+\):[ \t\n]*\([^:]\+\)'

worker_hosts=$(\
  echo $worker_ckpts | sed -e 's/'"$worker_ckpts_regexp"'/\1 /g')
restart_modes=$(\
  echo $worker_ckpts | sed -e 's/'"$worker_ckpts_regexp"'/: \2/g')
ckpt_files_groups=$(\
  echo $worker_ckpts | sed -e 's/'"$worker_ckpts_regexp"'/: \3/g')

if [ ! -z "$hostfile" ]; then
  worker_hosts=$(\
    cat "$hostfile" | sed -e 's/#.*//' -e 's/[ \t\r]*//' -e '/^$/ d')
fi

localhost_ckpt_files_group=

num_worker_hosts=$(echo $worker_hosts | wc -w)

maybejoin=
if [ "$num_worker_hosts" != "1" ]; then
  maybejoin='--join'
fi

for worker_host in $worker_hosts
do

  ckpt_files_group=$(\
    echo $ckpt_files_groups | sed -e 's/[^:]*:[ \t\n]*\([^:]*\).*/\1/')
  ckpt_files_groups=$(echo $ckpt_files_groups | sed -e 's/[^:]*:[^:]*//')

  mode=$(echo $restart_modes | sed -e 's/[^:]*:[ \t\n]*\([^:]*\).*/\1/')
  restart_modes=$(echo $restart_modes | sed -e 's/[^:]*:[^:]*//')

  maybexterm=
  maybebg=
  case $mode in
    bg) maybebg='bg';;
    xterm) maybexterm=xterm;;
    fg) ;;
    *) echo "WARNING: Unknown Mode";;
  esac

  if [ -z "$ckpt_files_group" ]; then
    break;
  fi

  new_ckpt_files_group=""
  for tmp in $ckpt_files_group
  do
      if  [ ! -z "$DMTCP_RESTART_DIR" ]; then
        tmp=$DMTCP_RESTART_DIR/$(basename $tmp)
      fi
      new_ckpt_files_group="$new_ckpt_files_group $tmp"
  done

  check_local $worker_host
  if [ "$is_local_node" -eq 1 -o "$num_worker_hosts" == "1" ]; then
    localhost_ckpt_files_group="$new_ckpt_files_group"
    continue
  fi

  if [ -z $maybebg ]; then
    $maybexterm /usr/bin/ssh -t "$worker_host" \
      $remote_dmt_rstr_cmd --host "$coord_host" --port "$coord_port"\
      $maybebatch --join --interval "$checkpoint_interval"\
      $new_ckpt_files_group
  else
    $maybexterm /usr/bin/ssh "$worker_host" \
      "/bin/sh -c '$remote_dmt_rstr_cmd --host $coord_host --port $coord_port\
      $maybebatch --join --interval "$checkpoint_interval"\
      $new_ckpt_files_group'" &
  fi

done

`

const multiHostLocalExecAndWait = `if [ -n "$localhost_ckpt_files_group" ]; then
exec $dmt_rstr_cmd --host "$coord_host" --port "$coord_port" $maybebatch\
  $maybejoin --interval "$checkpoint_interval" $localhost_ckpt_files_group
fi

#wait for them all to finish
wait
`

const multiHostSyntaxComment = `# SYNTAX:
#  :: <HOST> :<MODE>: <CHECKPOINT_IMAGE> ...
# Host names and filenames must not include ':'
# At most one fg (foreground) mode allowed; it must be last.
# 'maybexterm' and 'maybebg' are set from <MODE>.
`

const discoverRM = `# Check for resource manager
discover_rm_path=$(which dmtcp_discover_rm)
if [ -n "$discover_rm_path" ]; then
  eval $(dmtcp_discover_rm "$worker_ckpts")
  if [ -n "$new_worker_ckpts" ]; then
    worker_ckpts="$new_worker_ckpts"
  fi
fi




`
